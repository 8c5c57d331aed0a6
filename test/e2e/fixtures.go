package e2e

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// WriteCSV writes the corpus as a CSV dataset at path.
func WriteCSV(path string, c *Corpus) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(c.Rows()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteXLSX writes the corpus as an Excel workbook at path, header in the first row of the first sheet.
func WriteXLSX(path string, c *Corpus) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := append([][]string{Header}, c.Rows()...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	return f.SaveAs(path)
}
