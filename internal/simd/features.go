package simd

import "golang.org/x/sys/cpu"

var accelerated bool

func init() {
	if cpu.X86.HasBMI1 || cpu.ARM64.HasASIMD {
		separatorsImpl = separatorsSWAR
		countImpl = countSWAR
		accelerated = true
	}
}

// Accelerated reports whether the word-at-a-time path is active.
func Accelerated() bool {
	return accelerated
}

// Features lists the vector-relevant CPU features detected on this host.
func Features() []string {
	var out []string
	flags := []struct {
		name string
		ok   bool
	}{
		{"sse4.2", cpu.X86.HasSSE42},
		{"popcnt", cpu.X86.HasPOPCNT},
		{"bmi1", cpu.X86.HasBMI1},
		{"avx2", cpu.X86.HasAVX2},
		{"avx512f", cpu.X86.HasAVX512F},
		{"avx512bw", cpu.X86.HasAVX512BW},
		{"asimd", cpu.ARM64.HasASIMD},
	}
	for _, f := range flags {
		if f.ok {
			out = append(out, f.name)
		}
	}
	return out
}
