package picotrng

import (
	"testing"

	"github.com/spf13/viper"
)

func TestAcquireConfigFromViperDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	conf, err := AcquireConfigFromViper()
	if err != nil {
		t.Fatalf("AcquireConfigFromViper with stock defaults: %v", err)
	}
	if conf.Mode != ModeCount {
		t.Errorf("default mode = %q, want %q", conf.Mode, ModeCount)
	}
	if conf.TotalBitsTarget != 10000000 {
		t.Errorf("default target = %d, want 10000000", conf.TotalBitsTarget)
	}
	if conf.Sampler.VoltageRange != 5.0 {
		t.Errorf("default voltage range = %v, want 5.0", conf.Sampler.VoltageRange)
	}
	if conf.Sampler.ProbeMultiplier != 10.0 {
		t.Errorf("default probe multiplier = %v, want 10.0", conf.Sampler.ProbeMultiplier)
	}
}

func TestAcquireConfigFromViperOverrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("acquisition.mode", "duration")
	viper.Set("acquisition.durationseconds", 2.5)
	viper.Set("acquisition.sampler.probemultiplier", 1.0)

	conf, err := AcquireConfigFromViper()
	if err != nil {
		t.Fatal(err)
	}
	if conf.Mode != ModeDuration {
		t.Errorf("mode = %q, want %q", conf.Mode, ModeDuration)
	}
	if conf.DurationSeconds != 2.5 {
		t.Errorf("duration = %v, want 2.5", conf.DurationSeconds)
	}
	if conf.Sampler.ProbeMultiplier != 1.0 {
		t.Errorf("probe multiplier = %v, want 1.0", conf.Sampler.ProbeMultiplier)
	}
}

func TestAcquireConfigFromViperRejectsBadMode(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("acquisition.mode", "sideways")

	if _, err := AcquireConfigFromViper(); err == nil {
		t.Error("invalid capture mode accepted from config")
	}
}
