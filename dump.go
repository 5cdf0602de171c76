package rvg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Dumper keeps provider bodies that failed to parse, for later inspection.
type Dumper struct {
	Dir    string
	Bucket string
	ToDisk bool
	ToS3   bool
	// replaced in tests
	putS3 func(ctx context.Context, bucket string, key string, body []byte) (string, error)
}

func NewDumper(config *Config) *Dumper {
	return &Dumper{
		Dir:    config.DumpDir,
		Bucket: config.DumpBucket,
		ToDisk: config.DumpOutput,
		ToS3:   config.DumpOutputS3,
		putS3:  PutS3Object,
	}
}

func (d *Dumper) Enabled() bool {
	return d != nil && (d.ToDisk || d.ToS3)
}

// DumpError writes the body carried by a schema error. Other errors are ignored.
func (d *Dumper) DumpError(ctx context.Context, err error) {
	var perr *ProviderError
	if !d.Enabled() || !errors.As(err, &perr) || perr.Kind != ErrorKindSchema || len(perr.Body) == 0 {
		return
	}

	d.Dump(ctx, perr.Provider, perr.Body)
}

// Dump stores body under a content-addressed name and returns where it went.
func (d *Dumper) Dump(ctx context.Context, name string, body []byte) []string {
	hash := sha256.Sum256(body)
	fileName := fmt.Sprintf("%s.%s.out", name, hex.EncodeToString(hash[:]))
	locations := make([]string, 0, 2)

	if d.ToS3 {
		if d.putS3 == nil {
			d.putS3 = PutS3Object
		}
		url, err := d.putS3(ctx, d.Bucket, fileName, body)
		if err != nil {
			Log.Warnf("%v", err)
		} else {
			Log.Debugf("Sent %d bytes to S3: %s", len(body), url)
			locations = append(locations, url)
		}
	}

	if d.ToDisk {
		filePath := filepath.Join(d.Dir, fileName)

		if _, err := os.Stat(filePath); err == nil {
			return append(locations, filePath)
		}

		if err := os.MkdirAll(d.Dir, 0755); err != nil {
			Log.Warnf("Can't create dump dir %s: %v", d.Dir, err)
			return locations
		}

		if err := os.WriteFile(filePath, body, 0644); err != nil {
			Log.Warnf("%v", err)
			return locations
		}

		Log.Debugf("Wrote %d bytes to file: %s", len(body), filePath)
		locations = append(locations, filePath)
	}

	return locations
}
