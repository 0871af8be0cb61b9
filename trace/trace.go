// Package trace loads recorded GPFIFO method streams.
//
// A trace is a table with one row per method write and the columns
// "channel" (optional, defaults to 0), "method" and "argument". Values may
// be integers or strings in any base accepted by strconv.ParseUint with base
// 0, so "0x1d" and "29" are equivalent.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"
)

// Trace errors
var (
	ErrEmptyTrace    = errors.New("empty trace")
	ErrMissingColumn = errors.New("trace is missing a column")
	ErrInvalidValue  = errors.New("invalid trace value")
	ErrUnknownFormat = errors.New("unknown trace format")
)

// Column names
const (
	COLUMN_CHANNEL  = "channel"
	COLUMN_METHOD   = "method"
	COLUMN_ARGUMENT = "argument"
)

// A single method write
type Entry struct {
	Channel  int
	Method   uint32
	Argument uint32
}

// Loads a trace, picking the format from the file extension
func Load(path string) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".parquet", ".pq":
		return LoadParquet(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Loads a CSV trace. The first row is the header
func LoadCSV(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadCSV(file)
}

// Reads a CSV trace from `r`
func ReadCSV(r io.ReadSeeker) ([]Entry, error) {
	df, err := imports.LoadFromCSV(context.Background(), r, imports.CSVLoadOptions{
		InferDataTypes: true,
	})
	if err != nil {
		return nil, err
	}
	return fromFrame(df)
}

// Loads a Parquet trace
func LoadParquet(path string) ([]Entry, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	df, err := imports.LoadFromParquet(context.Background(), fr)
	if err != nil {
		return nil, err
	}
	return fromFrame(df)
}

// Returns the series named `name`, ignoring case
func column(df *dataframe.DataFrame, name string) (dataframe.Series, bool) {
	for _, s := range df.Series {
		if strings.EqualFold(s.Name(), name) {
			return s, true
		}
	}
	return nil, false
}

func fromFrame(df *dataframe.DataFrame) ([]Entry, error) {
	if df == nil || len(df.Series) == 0 || df.NRows() == 0 {
		return nil, ErrEmptyTrace
	}

	methods, ok := column(df, COLUMN_METHOD)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, COLUMN_METHOD)
	}
	arguments, ok := column(df, COLUMN_ARGUMENT)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, COLUMN_ARGUMENT)
	}
	channels, hasChannels := column(df, COLUMN_CHANNEL)

	entries := make([]Entry, df.NRows())
	for row := range entries {
		method, err := toUint32(methods.Value(row))
		if err != nil {
			return nil, fmt.Errorf("row %d %s: %w", row, COLUMN_METHOD, err)
		}
		argument, err := toUint32(arguments.Value(row))
		if err != nil {
			return nil, fmt.Errorf("row %d %s: %w", row, COLUMN_ARGUMENT, err)
		}

		entries[row] = Entry{Method: method, Argument: argument}
		if hasChannels {
			channel, err := toUint32(channels.Value(row))
			if err != nil {
				return nil, fmt.Errorf("row %d %s: %w", row, COLUMN_CHANNEL, err)
			}
			entries[row].Channel = int(channel)
		}
	}
	return entries, nil
}

// Converts a cell to a 32 bit word
func toUint32(v interface{}) (uint32, error) {
	switch val := v.(type) {
	case int64:
		if val < 0 || val > math.MaxUint32 {
			return 0, fmt.Errorf("%w: %d out of range", ErrInvalidValue, val)
		}
		return uint32(val), nil
	case int32:
		if val < 0 {
			return 0, fmt.Errorf("%w: %d out of range", ErrInvalidValue, val)
		}
		return uint32(val), nil
	case float64:
		if val < 0 || val > math.MaxUint32 || val != math.Trunc(val) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, val)
		}
		return uint32(val), nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(val), 0, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, val)
		}
		return uint32(n), nil
	case bool:
		// a column holding only 0 and 1 may be inferred as booleans
		if val {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, fmt.Errorf("%w: missing value", ErrInvalidValue)
	}
	return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
}

// Splits a trace by channel, keeping the order of writes within a channel
func Group(entries []Entry) map[int][]Entry {
	channels := make(map[int][]Entry)
	for _, entry := range entries {
		channels[entry.Channel] = append(channels[entry.Channel], entry)
	}
	return channels
}

// Returns the sorted list of channels used by a trace
func Channels(entries []Entry) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, entry := range entries {
		if !seen[entry.Channel] {
			seen[entry.Channel] = true
			ids = append(ids, entry.Channel)
		}
	}
	sort.Ints(ids)
	return ids
}
