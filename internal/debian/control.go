package debian

import (
	"io"
	"strings"

	"pault.ag/go/debian/control"
)

// Field is one deb822 field. Multi-line values are stored with their lines
// joined by "\n", without the leading continuation space; a " ." line is an
// empty line.
type Field struct {
	Name  string
	Value string
}

// Paragraph is an ordered deb822 paragraph, e.g. one stanza of a Packages
// index or a control file.
type Paragraph []Field

// Get returns the value of the named field; names are case-insensitive.
func (p Paragraph) Get(name string) string {
	for _, f := range p {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Set replaces the named field or appends it.
func (p *Paragraph) Set(name, value string) {
	for i, f := range *p {
		if strings.EqualFold(f.Name, name) {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Field{Name: name, Value: value})
}

func fromControl(cp control.Paragraph) Paragraph {
	p := make(Paragraph, 0, len(cp.Order))
	for _, name := range cp.Order {
		p = append(p, Field{Name: name, Value: strings.TrimRight(cp.Values[name], "\n")})
	}
	return p
}

func (p Paragraph) control() *control.Paragraph {
	cp := &control.Paragraph{Values: make(map[string]string, len(p))}
	for _, f := range p {
		cp.Set(f.Name, f.Value)
	}
	return cp
}

// Encode renders p without the terminating blank line.
func (p Paragraph) Encode(w io.Writer) error {
	return p.control().WriteTo(w)
}

// ParseParagraphs reads all paragraphs from r. Comment lines are skipped.
func ParseParagraphs(r io.Reader) ([]Paragraph, error) {
	pr, err := control.NewParagraphReader(r, nil)
	if err != nil {
		return nil, err
	}
	all, err := pr.All()
	if err != nil {
		return nil, err
	}
	paras := make([]Paragraph, 0, len(all))
	for _, cp := range all {
		paras = append(paras, fromControl(cp))
	}
	return paras, nil
}

// WriteParagraphs renders paras, each followed by a blank line.
func WriteParagraphs(w io.Writer, paras []Paragraph) error {
	for _, p := range paras {
		if err := p.Encode(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
