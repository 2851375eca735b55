// Package audio holds the PCM plumbing shared by every transport: the
// frame [Assembler] that turns arbitrary byte chunks into fixed-size frames,
// sample decoding and normalisation, downmixing and resampling, and WAV
// header parsing and writing.
//
// All audio is little-endian signed 16-bit PCM. Frames are 512 samples at
// 16 kHz or 256 samples at 8 kHz, mono.
package audio
