package board

import "github.com/linaro/imagetools/internal/partition"

const (
	omapSerialOptions = "console=tty0 console=%s,115200n8"
	rawCylinders      = 1
	bootCylinders     = 9
)

func defaultPartitions(fatSize int) []partition.Segment {
	return []partition.Segment{
		{Kind: partition.FAT(fatSize), Length: bootCylinders, Bootable: true},
		{Kind: partition.Linux},
	}
}

// rawPartitions prepends a reserved segment of n cylinders for boards whose
// loader lives between the MBR and the first filesystem.
func rawPartitions(n, fatSize int) []partition.Segment {
	return append([]partition.Segment{{Kind: partition.Raw, Length: n}}, defaultPartitions(fatSize)...)
}

func ubootPath(flavor, file string) string { return "usr/lib/u-boot/" + flavor + "/" + file }

func omapSteps(xloader, uboot string) []Step {
	var steps []Step
	if xloader != "" {
		// MLO must be the first file written to the FAT partition.
		steps = append(steps, Step{Kind: FirstStage, Glob: "usr/lib/x-loader/" + xloader + "/MLO", Dest: "MLO"})
	}
	if uboot != "" {
		steps = append(steps, Step{Kind: FirstStage, Glob: ubootPath(uboot, "u-boot.bin"), Dest: "u-boot.bin"})
	}
	return append(steps,
		Step{Kind: UImage},
		Step{Kind: UInitrd},
		Step{Kind: BootScript},
		Step{Kind: BootIni},
	)
}

func scriptSteps() []Step {
	return []Step{
		{Kind: UImage},
		{Kind: UInitrd},
		{Kind: BootScript},
	}
}

// mx5Steps write u-boot.imx at byte 1024, where the i.MX boot ROM expects
// the image header.
func mx5Steps(uboot string) []Step {
	return append([]Step{
		{Kind: RawWrite, Source: SourceStaged, Glob: ubootPath(uboot, "u-boot.imx"), Seek: 2, Max: rawCylinders*partition.Heads*partition.Sectors - 2},
	}, scriptSteps()...)
}

// Samsung raw layout, in sectors.
const (
	samsungBL1Start    = 1
	samsungBL1Len      = 32
	samsungEnvStart    = 33
	samsungEnvLen      = 32
	samsungBL2Start    = 65
	samsungBL2Len      = 1024
	samsungKernelStart = 1089
	samsungKernelLen   = 8192
	samsungInitrdStart = 9281

	samsungRawCylinders = 14
)

const samsungBootCommand = "movi read kernel {{.KernelAddr}}; movi read rootfs {{.InitrdAddr}} 0x1000000; bootm {{.KernelAddr}} {{.InitrdAddr}}"

func samsungSteps(uboot string) []Step {
	return []Step{
		{Kind: RawWrite, Source: SourceStaged, Glob: ubootPath(uboot, "u-boot-mmc-spl.bin"), Seek: samsungBL1Start, Max: samsungBL1Len},
		{Kind: EnvBlock},
		{Kind: RawWrite, Source: SourceEnvBlock, Seek: samsungEnvStart, Max: samsungEnvLen},
		{Kind: RawWrite, Source: SourceStaged, Glob: ubootPath(uboot, "u-boot.bin"), Seek: samsungBL2Start, Max: samsungBL2Len},
		{Kind: UImage},
		{Kind: UInitrd},
		{Kind: RawWrite, Source: SourceUImage, Seek: samsungKernelStart, Max: samsungKernelLen},
		{Kind: RawWrite, Source: SourceUInitrd, Seek: samsungInitrdStart, Max: samsungRawCylinders*partition.Heads*partition.Sectors - samsungInitrdStart},
		{Kind: BootScript},
	}
}

func omap(name string, kernelAddr uint32, flavors []string, xloader, uboot, bootArgs string) *Profile {
	return &Profile{
		Name:                 name,
		KernelAddr:           kernelAddr,
		InitrdAddr:           0x81600000,
		LoadAddr:             0x80008000,
		KernelFlavors:        flavors,
		SerialConsole:        "ttyO2",
		LegacySerialConsole:  "ttyS2",
		ExtraSerialOptions:   omapSerialOptions,
		BootScript:           "boot.scr",
		FATSize:              32,
		MMCOption:            "0:1",
		ExtraBootArgsOptions: bootArgs,
		Partitions:           defaultPartitions(32),
		Steps:                omapSteps(xloader, uboot),
	}
}

func mx5(name string, kernelAddr, initrdAddr, loadAddr uint32, flavors []string, console, uboot string) *Profile {
	return &Profile{
		Name:               name,
		KernelAddr:         kernelAddr,
		InitrdAddr:         initrdAddr,
		LoadAddr:           loadAddr,
		KernelFlavors:      flavors,
		SerialConsole:      console,
		ExtraSerialOptions: omapSerialOptions,
		BootScript:         "boot.scr",
		FATSize:            32,
		MMCOption:          "0:2",
		MMCPartOffset:      1,
		Partitions:         rawPartitions(rawCylinders, 32),
		Steps:              mx5Steps(uboot),
	}
}

func samsung(name, console, uboot string, flavors []string) *Profile {
	return &Profile{
		Name:                 name,
		KernelAddr:           0x40007000,
		InitrdAddr:           0x42000000,
		LoadAddr:             0x40008000,
		KernelFlavors:        flavors,
		SerialConsole:        console,
		ExtraSerialOptions:   "console=%s,115200n8",
		BootScript:           "boot.scr",
		FATSize:              32,
		MMCOption:            "0:2",
		MMCPartOffset:        1,
		ExtraBootArgsOptions: "rootdelay=1",
		BootCommand:          samsungBootCommand,
		Partitions:           rawPartitions(samsungRawCylinders, 32),
		Env: []EnvVar{
			{"bootcmd", samsungBootCommand},
			{"ethact", "smc911x-0"},
			{"ethaddr", "00:40:5c:26:0a:5b"},
		},
		EnvSectors: samsungEnvLen,
		Steps:      samsungSteps(uboot),
	}
}

const ux500BootArgs = "earlyprintk rootdelay=1 fixrtc nocompcache mem=96M@0 mem_modem=32M@96M mem=44M@128M pmem=22M@172M mem=30M@194M mem_mali=32M@224M pmem_hwb=54M@256M hwmem=48M@302M mem=152M@360M"

func ux500(name string, flavors []string) *Profile {
	return &Profile{
		Name:                 name,
		KernelAddr:           0x00100000,
		InitrdAddr:           0x08000000,
		LoadAddr:             0x00008000,
		KernelFlavors:        flavors,
		SerialConsole:        "ttyAMA2",
		ExtraSerialOptions:   omapSerialOptions,
		BootScript:           "flash.scr",
		FATSize:              32,
		MMCOption:            "1:1",
		ExtraBootArgsOptions: ux500BootArgs,
		Partitions:           defaultPartitions(32),
		Steps:                scriptSteps(),
	}
}

var omapFlavors = []string{"linaro-omap4", "linaro-lt-omap", "linaro-omap", "omap3"}

func init() {
	register(omap("beagle", 0x80000000,
		omapFlavors, "omap3530beagle", "omap3_beagle",
		"earlyprintk fixrtc nocompcache vram=12M omapfb.mode=dvi:1280x720MR-16@60"))
	register(omap("overo", 0x80000000,
		omapFlavors, "omap3530overo", "overo",
		"earlyprintk mpurate=${mpurate} vram=12M omapfb.mode=dvi:${dvimode} omapdss.def_disp=${defaultdisplay}"))
	register(omap("panda", 0x80200000,
		[]string{"linaro-omap4", "linaro-lt-omap", "linaro-omap", "omap4"}, "omap4430panda", "omap4_panda",
		"earlyprintk fixrtc nocompcache vram=32M omapfb.vram=0:8M mem=463M ip=none"))
	// IGEPv2 boots x-loader and u-boot from its NAND flash.
	register(omap("igep", 0x80000000,
		[]string{"linaro-omap"}, "", "",
		"earlyprintk fixrtc nocompcache vram=12M omapfb.debug=y omapfb.mode=dvi:1280x720MR-16@60"))

	register(ux500("ux500", []string{"u8500", "ux500"}))
	register(ux500("snowball_sd", []string{"snowball"}))

	register(mx5("mx51evk", 0x90000000, 0x92000000, 0x90008000,
		[]string{"linaro-mx51", "linaro-lt-mx5"}, "ttymxc0", "mx51evk"))
	register(mx5("mx53loco", 0x70800000, 0x71800000, 0x70008000,
		[]string{"linaro-lt-mx53", "linaro-lt-mx5"}, "ttymxc0", "mx53loco"))
	register(mx5("efikamx", 0x90000000, 0x92000000, 0x90008000,
		[]string{"linaro-efikamx"}, "ttymxc1", "efikamx"))
	register(mx5("efikasb", 0x90000000, 0x92000000, 0x90008000,
		[]string{"linaro-efikamx"}, "ttymxc1", "efikasb"))

	// The Versatile Express boot monitor only reads FAT16 and loads uImage
	// and uInitrd itself.
	register(&Profile{
		Name:               "vexpress",
		KernelAddr:         0x60008000,
		InitrdAddr:         0x81000000,
		LoadAddr:           0x60008000,
		KernelFlavors:      []string{"linaro-vexpress"},
		SerialConsole:      "ttyAMA0",
		ExtraSerialOptions: "console=tty0 console=%s,38400n8",
		FATSize:            16,
		MMCOption:          "0:1",
		Partitions:         defaultPartitions(16),
		Steps: []Step{
			{Kind: UImage},
			{Kind: UInitrd},
		},
	})

	register(samsung("smdkv310", "ttySAC1", "smdkv310", []string{"s5pv310"}))
	register(samsung("origen", "ttySAC2", "origen", []string{"origen"}))
}
