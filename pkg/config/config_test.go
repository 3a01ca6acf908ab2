package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
)

func TestLoadAppliesFlagDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	d := Default()
	AddFlags(fs, &d)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, _, err := Load(fs, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "stateful" {
		t.Fatalf("expected default mode stateful, got %q", cfg.Mode)
	}
	if cfg.HeartbeatPeriod != 1*time.Second {
		t.Fatalf("expected default heartbeat period 1s, got %v", cfg.HeartbeatPeriod)
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	os.Setenv("RTPS_IP_NO_MCAST", "true")
	defer os.Unsetenv("RTPS_IP_NO_MCAST")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	d := Default()
	AddFlags(fs, &d)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, _, err := Load(fs, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IPNoMCast {
		t.Fatal("expected RTPS_IP_NO_MCAST=true to override IPNoMCast")
	}
}

func TestValidateAggregatesEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.Mode = "bogus"
	cfg.MsgSize = 0
	cfg.FragSize = -1
	cfg.FragBurst = 0
	cfg.LeaseTime = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected Validate to report errors")
	}
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected *multierror.Error, got %T", err)
	}
	if len(merr.Errors) != 5 {
		t.Fatalf("expected 5 aggregated errors, got %d: %v", len(merr.Errors), merr.Errors)
	}
	if !strings.Contains(err.Error(), "mode") {
		t.Fatalf("expected aggregated message to mention mode, got %q", err.Error())
	}
}

func TestValidatePassesOnDefaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected Default() to validate cleanly, got %v", err)
	}
}
