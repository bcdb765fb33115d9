// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package record

import (
	"context"

	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/attribute"
)

// Progress is called after every converted batch with the number of rows
// written so far and the total number of rows.
type Progress func(done, total int)

// Convert copies a bolt recording into another sink, typically an HDF5 file.
func Convert(ctx context.Context, log *zap.Logger, src *Recording, dst Sink, progress Progress) (err error) {
	defer mon.Task()(&ctx)(&err)

	specs, err := src.Specs()
	if err != nil {
		return err
	}

	total := 0
	for _, spec := range specs {
		count, err := src.Count(spec.Name)
		if err != nil {
			return err
		}
		total += count
	}

	done := 0
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dst.Create(spec); err != nil {
			log.Error("creating dataset failed", zap.String("attribute", spec.Name), zap.Error(err))
			continue
		}
		err := src.Rows(spec, 0, func(rows attribute.Rows[any]) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := dst.Append(spec, rows); err != nil {
				return err
			}
			done += rows.Len()
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
		if err != nil {
			return Error.New("converting %q: %w", spec.Name, err)
		}
	}

	return src.Bookkeeping(dst.Bookkeeping)
}
