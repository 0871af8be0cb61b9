package trace

import (
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Row layout of Parquet traces
type parquetEntry struct {
	Channel  int64 `parquet:"name=channel, type=INT64"`
	Method   int64 `parquet:"name=method, type=INT64"`
	Argument int64 `parquet:"name=argument, type=INT64"`
}

// Writes `entries` to a Snappy compressed Parquet file
func WriteParquet(path string, entries []Entry) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}

	pw, err := writer.NewParquetWriter(fw, new(parquetEntry), 1)
	if err != nil {
		fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		row := parquetEntry{
			Channel:  int64(entry.Channel),
			Method:   int64(entry.Method),
			Argument: int64(entry.Argument),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			fw.Close()
			return err
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}
