// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/process"
	"vxpy.io/vxpy/pkg/record"
	"vxpy.io/vxpy/pkg/record/h5"
)

func cmdConvert(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L().Named("convert")

	src, err := record.OpenRecording(args[0])
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, src.Close()) }()

	meta, err := src.Metadata()
	if err != nil {
		return err
	}
	dst, err := h5.Create(log, args[1], meta)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, dst.Close()) }()

	bar := pb.New(0)
	bar.Start()
	defer bar.Finish()

	return record.Convert(ctx, log, src, dst, func(done, total int) {
		bar.SetTotal(int64(total))
		bar.SetCurrent(int64(done))
	})
}
