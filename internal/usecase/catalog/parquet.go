package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/healthrec/internal/domain"
	dombatch "github.com/kailas-cloud/healthrec/internal/domain/batch"
)

const parquetReadBatch = 256

// parquetRow is the flat columnar layout of a service export.
// Columns absent from a file read as nulls.
type parquetRow struct {
	ID           *string  `parquet:"id"`
	Name         string   `parquet:"name"`
	Description  *string  `parquet:"description"`
	Latitude     *float64 `parquet:"latitude"`
	Longitude    *float64 `parquet:"longitude"`
	Street1      *string  `parquet:"street1"`
	City         *string  `parquet:"city"`
	Province     *string  `parquet:"province"`
	PostalCode   *string  `parquet:"postal_code"`
	Country      *string  `parquet:"country"`
	PhoneNumbers []string `parquet:"phone_numbers,list"`
	Email        *string  `parquet:"email"`
	Website      *string  `parquet:"website"`
	Resource     *string  `parquet:"resource"`
	ServiceType  *string  `parquet:"service_type"`
	LastUpdated  *string  `parquet:"last_updated"`
}

// LoadParquet ingests a parquet export. Rows go through the same parsing and
// dedup as JSON records.
func (s *Service) LoadParquet(ctx context.Context, r io.ReaderAt, size int64, opts LoadOptions) (dombatch.Report, error) {
	raws, err := readParquet(r, size)
	if err != nil {
		return dombatch.Report{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return s.ingest(ctx, raws, opts)
}

func readParquet(r io.ReaderAt, size int64) (raws []json.RawMessage, err error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	reader := parquet.NewGenericReader[parquetRow](f)
	defer func() {
		if cerr := reader.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close parquet: %w", cerr)
		}
	}()

	buf := make([]parquetRow, parquetReadBatch)
	for {
		n, readErr := reader.Read(buf)
		for i := range n {
			raw, mErr := json.Marshal(buf[i].toObject())
			if mErr != nil {
				return nil, fmt.Errorf("row %d: %w", len(raws), mErr)
			}
			raws = append(raws, raw)
		}
		if errors.Is(readErr, io.EOF) {
			return raws, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("read parquet: %w", readErr)
		}
	}
}

// toObject rebuilds the upstream JSON shape, nesting the address columns.
func (p parquetRow) toObject() map[string]any {
	obj := map[string]any{"name": p.Name}
	set := func(key string, v *string) {
		if v != nil {
			obj[key] = *v
		}
	}
	set("id", p.ID)
	set("description", p.Description)
	set("email", p.Email)
	set("website", p.Website)
	set("resource", p.Resource)
	set("service_type", p.ServiceType)
	set("last_updated", p.LastUpdated)

	if p.Latitude != nil && p.Longitude != nil {
		obj["latitude"] = *p.Latitude
		obj["longitude"] = *p.Longitude
	}
	if len(p.PhoneNumbers) > 0 {
		obj["phone_numbers"] = p.PhoneNumbers
	}

	addr := map[string]any{}
	for key, v := range map[string]*string{
		"street1":     p.Street1,
		"city":        p.City,
		"province":    p.Province,
		"postal_code": p.PostalCode,
		"country":     p.Country,
	} {
		if v != nil {
			addr[key] = *v
		}
	}
	if len(addr) > 0 {
		obj["address"] = addr
	}
	return obj
}
