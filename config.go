package picotrng

import (
	"fmt"

	"github.com/spf13/viper"
)

// Viper keys for the acquisition configuration. The nested "acquisition"
// block in the YAML config file unmarshals directly into AcquireConfig; the
// sampler block maps onto AcquireConfig.Sampler.
//
//	acquisition:
//	  mode: count
//	  totalbitstarget: 10000000
//	  nosignaltimeoutseconds: 3
//	  statusbycountinterval: 10000
//	  statusbytimeinterval: 5
//	  outputfile: output.txt
//	  sampler:
//	    voltagerange: 5.0
//	    clockthreshold: 1.5
//	    datathreshold: 2.0
//	    probemultiplier: 10
const acquireConfigKey = "acquisition"

// setConfigDefaults registers the stock acquisition setup: the values the
// measurement has always used with the 4824a and an x10 probe on the data
// channel.
func setConfigDefaults() {
	viper.SetDefault(acquireConfigKey+".mode", string(ModeCount))
	viper.SetDefault(acquireConfigKey+".totalbitstarget", 10000000)
	viper.SetDefault(acquireConfigKey+".durationseconds", 10.0)
	viper.SetDefault(acquireConfigKey+".nosignaltimeoutseconds", DefaultNoSignalTimeoutSeconds)
	viper.SetDefault(acquireConfigKey+".statusbycountinterval", DefaultStatusByCountInterval)
	viper.SetDefault(acquireConfigKey+".statusbytimeinterval", DefaultStatusByTimeInterval)
	viper.SetDefault(acquireConfigKey+".outputfile", "output.txt")
	viper.SetDefault(acquireConfigKey+".sampler.voltagerange", 5.0)
	viper.SetDefault(acquireConfigKey+".sampler.clockthreshold", 1.5)
	viper.SetDefault(acquireConfigKey+".sampler.datathreshold", 2.0)
	viper.SetDefault(acquireConfigKey+".sampler.probemultiplier", 10.0)
}

// AcquireConfigFromViper loads and validates the acquisition configuration
// from the viper-managed config file.
func AcquireConfigFromViper() (AcquireConfig, error) {
	setConfigDefaults()
	var conf AcquireConfig
	if err := viper.UnmarshalKey(acquireConfigKey, &conf); err != nil {
		return conf, fmt.Errorf("cannot unmarshal %q config: %v", acquireConfigKey, err)
	}
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid %q config: %v", acquireConfigKey, err)
	}
	return conf, nil
}
