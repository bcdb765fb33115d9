// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/internal/sync2"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/process"
)

// cmdStatus reads the table of a running session as an outside observer.
func cmdStatus(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	if statusCfg.RuntimeDir == "" {
		return errs.New("--runtime-dir is required")
	}
	color.NoColor = !useColor

	session, err := controller.ReadSession(statusCfg.RuntimeDir)
	if err != nil {
		return err
	}
	table, err := controller.OpenTable(ctx, session, controller.TablePath(statusCfg.RuntimeDir))
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, table.Close()) }()

	for {
		if err := printStatus(ctx, session, table); err != nil {
			return err
		}
		if !statusCfg.Watch {
			return nil
		}
		if !sync2.Sleep(ctx, time.Second) {
			return nil
		}
	}
}

func printStatus(ctx context.Context, session controller.Session, table ipc.Table) error {
	control, err := table.Control(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nSession %s, started %s\n", session.ID, session.Epoch().Format(time.RFC3339))
	switch {
	case control.Recording.Active:
		color.Green("Recording to %s\n", control.Recording.Folder)
	case control.Recording.Folder != "":
		color.Yellow("Recording paused (%s)\n", control.Recording.Folder)
	default:
		fmt.Println("Not recording")
	}
	if control.Protocol.Path != "" {
		fmt.Printf("Protocol %s, phase %d of %d\n", control.Protocol.Path, control.Protocol.PhaseID+1, control.Protocol.PhaseCount)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nROLE\tSTATE\tRECORDING")
	for _, role := range ipc.Roles {
		state, err := table.State(ctx, role)
		if err != nil {
			return err
		}
		if state == ipc.Na {
			continue
		}
		rec, err := table.RecState(ctx, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", role, stateColor(state).Sprint(state), rec)
	}
	return w.Flush()
}

func stateColor(state ipc.State) *color.Color {
	switch state {
	case ipc.Idle:
		return color.New(color.FgGreen)
	case ipc.Stopped:
		return color.New(color.FgRed)
	case ipc.Starting:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan, color.Bold)
	}
}
