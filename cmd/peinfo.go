package main

import (
	"encoding/json"
	"fmt"
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	pe "github.com/jonikDk/ProcessMemoryMap"
)

var (
	app  = kingpin.New("peinfo", "Raw PE image analyzer.")

	infoCommand     = app.Command("info", "Displays structural info about a PE image.")
	infoCommandFile = infoCommand.Arg("file", "").Required().ExistingFile()
	infoCommandBase = infoCommand.Flag("base", "Runtime image base the loader mapped this image at (hex); defaults to the header's preferred base").String()

	exportsCommand     = app.Command("exports", "Lists the exports of a PE image.")
	exportsCommandFile = exportsCommand.Arg("file", "").Required().ExistingFile()

	importsCommand     = app.Command("imports", "Lists the standard and delay imports of a PE image.")
	importsCommandFile = importsCommand.Arg("file", "").Required().ExistingFile()

	stringsCommand       = app.Command("strings", "Scans a PE image for embedded ASCII/UTF-16LE strings.")
	stringsCommandFile   = stringsCommand.Arg("file", "").Required().ExistingFile()
	stringsCommandMinLen = stringsCommand.Flag("min-length", "Minimum run length to report").Default("4").Int()

	dumpCommand     = app.Command("dump", "Dumps bytes starting at a VA, clipped to the containing section.")
	dumpCommandFile = dumpCommand.Arg("file", "").Required().ExistingFile()
	dumpCommandVA   = dumpCommand.Arg("va", "Virtual address (hex) to dump from").Required().String()
	dumpCommandSize = dumpCommand.Flag("size", "Requested byte count; clipped to the section boundary").Default("64").Uint32()
)

func loadImage(path string, base pe.VA) (*pe.ParsedImage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return pe.New(raw, pe.NewOptions{
		ImagePath: path,
		ImageBase: base,
	})
}

func parseBaseFlag() pe.VA {
	if infoCommandBase == nil || *infoCommandBase == "" {
		return 0
	}
	var base uint64
	fmt.Sscanf(*infoCommandBase, "0x%x", &base)
	return pe.VA(base)
}

func doInfo() {
	img, err := loadImage(*infoCommandFile, parseBaseFlag())
	kingpin.FatalIfError(err, "Can not parse file %s: %v", *infoCommandFile, err)

	serialized, _ := json.MarshalIndent(img.Summary(), "", "  ")
	fmt.Println(string(serialized))
}

func doExports() {
	img, err := loadImage(*exportsCommandFile, 0)
	kingpin.FatalIfError(err, "Can not parse file %s: %v", *exportsCommandFile, err)

	for _, e := range img.Exports {
		if e.Forwarded() {
			fmt.Printf("%s -> %s\n", exportLabel(e), e.ForwardedTo)
			continue
		}
		fmt.Printf("%s = 0x%x\n", exportLabel(e), uint64(e.FuncAddrVA))
	}
}

func exportLabel(e pe.ExportEntry) string {
	if e.FunctionName != "" {
		return e.FunctionName
	}
	return fmt.Sprintf("#%d", e.Ordinal)
}

func doImports() {
	img, err := loadImage(*importsCommandFile, 0)
	kingpin.FatalIfError(err, "Can not parse file %s: %v", *importsCommandFile, err)

	for _, i := range img.Imports {
		fmt.Printf("%s!%s\n", i.LibraryName, importLabel(i))
	}
	for _, i := range img.DelayImports {
		fmt.Printf("%s!%s (delayed)\n", i.LibraryName, importLabel(i))
	}
}

func doStrings() {
	pe.SetLoadStringLength(*stringsCommandMinLen)
	defer pe.SetLoadStringLength(4)

	img, err := loadImage(*stringsCommandFile, 0)
	kingpin.FatalIfError(err, "Can not parse file %s: %v", *stringsCommandFile, err)

	for _, s := range img.Strings {
		kind := "ascii"
		if s.Wide {
			kind = "wide"
		}
		fmt.Printf("0x%x [%s] %s\n", uint64(s.VA), kind, s.Text)
	}
}

func doDump() {
	img, err := loadImage(*dumpCommandFile, 0)
	kingpin.FatalIfError(err, "Can not parse file %s: %v", *dumpCommandFile, err)

	var va uint64
	fmt.Sscanf(*dumpCommandVA, "0x%x", &va)

	data := img.ReadBytesAt(pe.VA(va), *dumpCommandSize)
	if len(data) == 0 {
		fmt.Println("(nothing mapped at that address)")
		return
	}
	fmt.Printf("%d bytes (requested %d):\n% x\n", len(data), *dumpCommandSize, data)
}

func importLabel(i pe.ImportEntry) string {
	if i.FunctionName != "" {
		return i.FunctionName
	}
	return fmt.Sprintf("#%d", i.Ordinal)
}

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	switch command {
	case infoCommand.FullCommand():
		doInfo()
	case exportsCommand.FullCommand():
		doExports()
	case importsCommand.FullCommand():
		doImports()
	case stringsCommand.FullCommand():
		doStrings()
	case dumpCommand.FullCommand():
		doDump()
	}
}
