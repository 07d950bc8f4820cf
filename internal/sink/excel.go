package sink

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/cwsf/cwsf/internal/config"
)

// ExcelSink accumulates records and writes one header row plus one data
// row per record into a single sheet on Close.
type ExcelSink struct {
	path    string
	records []map[string]interface{}
}

func NewExcelSink(cfg *config.Config) (Sink, error) {
	path, err := resolveFilePath(cfg.Output.Destination, cfg.SiteName, "xlsx")
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("create excel sink directory: %w", err)
	}
	return &ExcelSink{path: path}, nil
}

func (s *ExcelSink) Write(records []map[string]interface{}) error {
	s.records = append(s.records, records...)
	return nil
}

func (s *ExcelSink) Close() error {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	columns := unionFieldNames(s.records)
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("excel header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("write excel header: %w", err)
		}
	}

	for r, rec := range s.records {
		for c, col := range columns {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return fmt.Errorf("excel data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, valueOrEmpty(rec[col])); err != nil {
				return fmt.Errorf("write excel row: %w", err)
			}
		}
	}

	return f.SaveAs(s.path)
}
