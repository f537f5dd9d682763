// Package csv writes a session's records to a comma-separated artifact named after its query.
package csv

import (
	gocsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	textunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrNotFound = errors.New("artifact not found")

// Filename derives the artifact name from a query, e.g. "coffee shops" becomes "coffee_shops.csv".
func Filename(query string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, query)
	return name + ".csv"
}

type Sink struct {
	Fs  afero.Fs
	Dir string
}

// Write serializes records in order, overwriting any artifact of the same name. The file is UTF-8
// with a byte order mark so spreadsheet tools keep non-ASCII names intact.
func (s Sink) Write(query string, records []listing.Record) (filename string, err error) {
	filename = Filename(query)
	if err := s.Fs.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results dir: %w", err)
	}

	f, err := s.Fs.OpenFile(filepath.Join(s.Dir, filename), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating artifact: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	tw := transform.NewWriter(f, textunicode.UTF8BOM.NewEncoder())
	w := gocsv.NewWriter(tw)
	if err := w.Write(listing.Columns); err != nil {
		return "", err
	}
	for _, r := range records {
		if err := w.Write(r.Row()); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := multierr.Append(w.Error(), tw.Close()); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return filename, nil
}

// Open returns a stored artifact for download. Only base names inside the results dir are served.
func (s Sink) Open(filename string) (afero.File, os.FileInfo, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." || name == ".." {
		return nil, nil, ErrNotFound
	}

	f, err := s.Fs.Open(filepath.Join(s.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// Read parses an artifact back into records. Empty cells come back as absent fields.
func (s Sink) Read(filename string) ([]listing.Record, error) {
	f, _, err := s.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := gocsv.NewReader(transform.NewReader(f, textunicode.UTF8BOM.NewDecoder()))
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("artifact %s has no header", filename)
	}
	if err != nil {
		return nil, err
	}
	if !slices.Equal(header, listing.Columns) {
		return nil, fmt.Errorf("artifact %s has unexpected columns %v", filename, header)
	}

	var records []listing.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, listing.FromRow(row))
	}
	return records, nil
}
