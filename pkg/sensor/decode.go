package sensor

import "fmt"

// The Decode functions convert raw register blocks into typed records. They
// are pure: the same bytes always decode to the same record. A block of the
// wrong length is a programming error and panics.
//
// Fixed-point fields are stored as an integer part followed by a fraction
// byte holding tenths (1dp) or hundredths (2dp). Multi-byte integers are
// little-endian.

func checkLen(region string, raw []byte, want int) {
	if len(raw) != want {
		panic(fmt.Sprintf("sensor: %s block is %d bytes, want %d", region, len(raw), want))
	}
}

func u16(lo, hi byte) uint16 {
	return uint16(lo) | uint16(hi)<<8
}

func u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func fixed1(intPart uint16, frac byte) float64 {
	return float64(intPart) + float64(frac)/10.0
}

func fixed2(intPart uint16, frac byte) float64 {
	return float64(intPart) + float64(frac)/100.0
}

// DecodeAirData decodes the 12-byte air data block.
//
//	[0]    temperature integer part, bit 7 is the sign
//	[1]    temperature tenths
//	[2:6]  pressure Pa
//	[6]    humidity integer part
//	[7]    humidity tenths
//	[8:12] gas sensor resistance Ohm
func DecodeAirData(raw []byte) AirData {
	checkLen("air", raw, AirDataBytes)
	t := fixed1(uint16(raw[0]&temperatureValueMask), raw[1])
	if raw[0]&temperatureSignMask != 0 {
		t = -t
	}
	return AirData{
		TemperatureC: t,
		PressurePa:   u32(raw[2:6]),
		HumidityPct:  fixed1(uint16(raw[6]), raw[7]),
		GasSensorOhm: u32(raw[8:12]),
	}
}

// DecodeAirQualityData decodes the 10-byte air quality block.
func DecodeAirQualityData(raw []byte) AirQualityData {
	checkLen("air quality", raw, AirQualityDataBytes)
	return AirQualityData{
		AQI:      fixed1(u16(raw[0], raw[1]), raw[2]),
		CO2e:     fixed1(u16(raw[3], raw[4]), raw[5]),
		BVOC:     fixed2(u16(raw[6], raw[7]), raw[8]),
		Accuracy: raw[9],
	}
}

// DecodeLightData decodes the 5-byte light block.
func DecodeLightData(raw []byte) LightData {
	checkLen("light", raw, LightDataBytes)
	return LightData{
		IlluminanceLux: fixed2(u16(raw[0], raw[1]), raw[2]),
		WhiteLevel:     u16(raw[3], raw[4]),
	}
}

// DecodeSoundData decodes the 18-byte sound block.
//
//	[0]      A-weighted SPL integer part
//	[1]      A-weighted SPL tenths
//	[2:8]    band SPL integer parts
//	[8:14]   band SPL tenths
//	[14:16]  peak amplitude mPa integer part
//	[16]     peak amplitude hundredths
//	[17]     stable flag
func DecodeSoundData(raw []byte) SoundData {
	checkLen("sound", raw, SoundDataBytes)
	d := SoundData{
		SPLdBA:     fixed1(uint16(raw[0]), raw[1]),
		PeakAmpMPa: fixed2(u16(raw[14], raw[15]), raw[16]),
		Stable:     raw[17] != 0,
	}
	for i := 0; i < SoundFrequencyBands; i++ {
		d.BandSPLdB[i] = fixed1(uint16(raw[2+i]), raw[2+SoundFrequencyBands+i])
	}
	return d
}

// DecodeParticleData decodes the 6-byte particle block. The kind selects the
// concentration unit.
func DecodeParticleData(raw []byte, kind ParticleSensorKind) ParticleData {
	checkLen("particle", raw, ParticleDataBytes)
	return ParticleData{
		DutyCyclePct:  fixed2(uint16(raw[0]), raw[1]),
		Concentration: fixed2(u16(raw[2], raw[3]), raw[4]),
		Unit:          kind.Unit(),
		Valid:         raw[5] != 0,
	}
}
