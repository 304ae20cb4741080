package notify

import (
	"bytes"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var xlsxHeader = []string{"Address ID", "Address", "City", "Zip", "Expected State", "Found State", "Found Code", "Edit URL"}

// renderXLSX renders the digest as an XLSX workbook for the email attachment.
func renderXLSX(d Digest) (*bytes.Buffer, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Mismatches")
	if err != nil {
		return nil, eris.Wrap(err, "notify: xlsx add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().Value = h
	}

	for _, m := range d.Mismatches {
		row := sheet.AddRow()
		row.AddCell().Value = strconv.FormatInt(m.AddressID, 10)
		row.AddCell().Value = m.AddressLine
		row.AddCell().Value = m.City
		row.AddCell().Value = m.ZipCode
		row.AddCell().Value = m.ExpectedState
		row.AddCell().Value = m.FoundState
		row.AddCell().Value = m.FoundCode
		row.AddCell().Value = m.EditURL
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "notify: xlsx write")
	}
	return &buf, nil
}
