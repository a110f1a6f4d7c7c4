package picotrng

import "fmt"

// RawType holds one raw signed sample from the digitizer.
type RawType int16

// FullScaleCode is the positive full-scale ADC code of a 16-bit signed
// digitizer. Raw samples map to volts as raw * VoltageRange / FullScaleCode.
const FullScaleCode = 32767

// SamplerConfig holds the fixed electrical facts needed to turn a raw
// dual-channel sample batch into extracted data bits. It is pure
// configuration: a SamplerConfig carries no state between batches.
type SamplerConfig struct {
	VoltageRange    float64 // full-scale voltage of both input channels
	ClockThreshold  float64 // volts; clock binary is 1 when scaled sample >= this
	DataThreshold   float64 // volts; data binary is 1 when scaled sample >= this
	ProbeMultiplier float64 // extra scale on the data channel (1 bare, 10 for an x10 probe)
}

// Validate checks that the configuration describes a usable sampler.
func (sc SamplerConfig) Validate() error {
	if sc.VoltageRange <= 0 {
		return fmt.Errorf("SamplerConfig.VoltageRange=%v, must be positive", sc.VoltageRange)
	}
	if sc.ProbeMultiplier <= 0 {
		return fmt.Errorf("SamplerConfig.ProbeMultiplier=%v, must be positive", sc.ProbeMultiplier)
	}
	return nil
}

// ExtractBits converts one batch of raw clock and data samples into the data
// bits found at rising edges of the binarized clock. Both channels are scaled
// by VoltageRange/FullScaleCode, the data channel additionally by
// ProbeMultiplier, then compared against their thresholds. A rising edge is
// any index i with clockBinary[i]-clockBinary[i-1] == 1; the output is the
// data binary at each such index, in order, one bit per edge.
//
// The returned slice holds bit values 0 and 1, not ASCII. With fewer than 2
// samples no edge can exist and the result is empty. ExtractBits never
// retains its inputs, so callers may reuse the raw buffers immediately.
func (sc SamplerConfig) ExtractBits(clock, data []RawType) []byte {
	n := len(clock)
	if len(data) < n {
		n = len(data)
	}
	if n < 2 {
		return nil
	}

	clockScale := sc.VoltageRange / FullScaleCode
	dataScale := clockScale * sc.ProbeMultiplier

	var bits []byte
	prev := float64(clock[0])*clockScale >= sc.ClockThreshold
	for i := 1; i < n; i++ {
		cur := float64(clock[i])*clockScale >= sc.ClockThreshold
		if cur && !prev {
			var b byte
			if float64(data[i])*dataScale >= sc.DataThreshold {
				b = 1
			}
			bits = append(bits, b)
		}
		prev = cur
	}
	return bits
}

// ExtractBatch applies ExtractBits to a driver batch. A batch with the
// overflow flag set means the driver lost data; the whole batch is discarded
// and the result is empty, with no partial processing.
func (sc SamplerConfig) ExtractBatch(b Batch) []byte {
	if b.Overflow {
		return nil
	}
	return sc.ExtractBits(b.Clock, b.Data)
}
