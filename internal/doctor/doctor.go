// Package doctor runs health checks against a deployed aclctl
// configuration: the manifest compiles, and the characteristic-table
// database is reachable.
package doctor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sheetguard/aclengine/pkg/rules"
)

// Check is the outcome of one health check.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Report is the full set of checks run by one Doctor.Run call.
type Report struct {
	Checks []Check
}

// HasErrors reports whether any check failed.
func (r *Report) HasErrors() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return true
		}
	}
	return false
}

// Print writes a human-readable report to out.
func (r *Report) Print(out io.Writer, verbose bool) {
	for _, c := range r.Checks {
		status := "OK"
		if !c.OK {
			status = "FAIL"
		}
		fmt.Fprintf(out, "[%s] %s\n", status, c.Name)
		if c.Detail != "" && (verbose || !c.OK) {
			fmt.Fprintf(out, "      %s\n", c.Detail)
		}
	}
}

// Doctor runs the checks for one manifest path and optional database
// DSN (empty DSN skips the connectivity check).
type Doctor struct {
	ManifestPath string
	DSN          string
}

// New builds a Doctor.
func New(manifestPath, dsn string) *Doctor {
	return &Doctor{ManifestPath: manifestPath, DSN: dsn}
}

// Run executes every applicable check.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	r := &Report{}
	r.Checks = append(r.Checks, d.checkManifest())
	if d.DSN != "" {
		r.Checks = append(r.Checks, d.checkDatabase(ctx))
	}
	return r, nil
}

func (d *Doctor) checkManifest() Check {
	m, err := rules.Load(d.ManifestPath)
	if err != nil {
		return Check{Name: "manifest loads", OK: false, Detail: err.Error()}
	}
	ruleSets, attrs, err := rules.Compile(m, rules.Compiler{})
	if err != nil {
		return Check{Name: "manifest compiles", OK: false, Detail: err.Error()}
	}
	return Check{
		Name: "manifest compiles",
		OK:   true,
		Detail: fmt.Sprintf("%d rule sets, %d user attributes", len(ruleSets), len(attrs)),
	}
}

func (d *Doctor) checkDatabase(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, d.DSN)
	if err != nil {
		return Check{Name: "database reachable", OK: false, Detail: err.Error()}
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return Check{Name: "database reachable", OK: false, Detail: err.Error()}
	}
	return Check{Name: "database reachable", OK: true}
}
