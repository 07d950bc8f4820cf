package sink

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"

	"github.com/cwsf/cwsf/internal/config"
)

// xmlRecord adapts a record map into the element/attribute shape
// encoding/xml needs, since it cannot marshal map[string]interface{}
// directly.
type xmlRecord struct {
	XMLName xml.Name   `xml:"record"`
	Fields  []xmlField `xml:",any"`
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// XMLSink accumulates records and writes a single <records> document on
// Close. XML has no natural append point the way a line-oriented sink
// does, so this sink always overwrites its destination.
type XMLSink struct {
	path    string
	records []map[string]interface{}
}

func NewXMLSink(cfg *config.Config) (Sink, error) {
	path, err := resolveFilePath(cfg.Output.Destination, cfg.SiteName, "xml")
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("create xml sink directory: %w", err)
	}
	return &XMLSink{path: path}, nil
}

func (s *XMLSink) Write(records []map[string]interface{}) error {
	s.records = append(s.records, records...)
	return nil
}

func (s *XMLSink) Close() error {
	elems := make([]xmlRecord, 0, len(s.records))
	for _, rec := range s.records {
		elems = append(elems, toXMLRecord(rec))
	}

	out := struct {
		XMLName xml.Name    `xml:"records"`
		Records []xmlRecord `xml:"record"`
	}{Records: elems}

	data, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal xml sink records: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	return os.WriteFile(s.path, data, 0o644)
}

func toXMLRecord(rec map[string]interface{}) xmlRecord {
	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]xmlField, 0, len(names))
	for _, name := range names {
		fields = append(fields, xmlField{XMLName: xml.Name{Local: name}, Value: fmt.Sprintf("%v", rec[name])})
	}
	return xmlRecord{Fields: fields}
}
