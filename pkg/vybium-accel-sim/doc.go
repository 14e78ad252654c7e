// Package vybiumaccelsim simulates, at the memory-trace level, an accelerator
// running the kernels of a zero-knowledge prover.
//
// The simulator never computes field values. Kernels describe which bytes move
// between memory and the on-chip buffers and how long the chip computes on
// them; the simulator turns that into a timed, dependency-annotated trace for
// an external DRAM timing simulator, plus per-kernel computation totals.
//
// # Features
//
// - First-fit memory arena with coalescing and a preload set
// - Convoy scheduling of field-vector chains (one MUL, two ADD/SUB, two fresh loads per convoy)
// - Address generators for memcpy, transpose, NTT, Merkle tree and padding-free hashing
// - Prefetch/drain de-duplication across consecutive kernels
// - Binary trace with an optional text mirror and a sha256, sha3 or tip5 digest
//
// # Quick Start
//
// Running a chain of vector operations:
//
//	sim, err := vybiumaccelsim.NewSimulator(vybiumaccelsim.DefaultConfig(), traceFile, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sim.Close()
//
//	a, _ := sim.Alloc("a", 64*8)
//	b, _ := sim.Alloc("b", 64*8)
//	c, _ := sim.Alloc("c", 64*8)
//
//	ops := []vybiumaccelsim.Operation{
//		vybiumaccelsim.Mul(64, a, b, c).AsFinal(),
//	}
//	if err := sim.RunVectorChain(ops); err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(sim.EstimatedCycles())
//
// Running a workload file:
//
//	w, err := vybiumaccelsim.LoadWorkload("workload.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg, err := w.ArchConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	sim, err := vybiumaccelsim.NewSimulator(cfg, traceFile, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := w.Run(sim); err != nil {
//		log.Fatal(err)
//	}
//
// # Addresses
//
// Address 0 means an absent operand. NewSimulator reserves the first arena
// block under the name "null" so that no buffer is ever placed there.
package vybiumaccelsim
