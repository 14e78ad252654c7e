package convoy_test

import (
	"fmt"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arena"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/convoy"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/kernel"
)

const vl = 16

var _ = Describe("Convoy packing", func() {
	var (
		cfg    *arch.Config
		mem    *arena.Arena
		packer *convoy.Packer
		vec    func(name string) uint64
	)

	BeforeEach(func() {
		cfg = arch.DefaultConfig().WithArenaBytes(1 << 20)
		mem = arena.New(cfg)
		mem.MustAlloc("null", cfg.Alignment)
		packer = convoy.NewPacker(cfg, mem)
		vec = func(name string) uint64 {
			return mem.MustAlloc(name, vl*cfg.ElementBytes)
		}
	})

	Describe("issue limits", func() {
		It("should pack five independent MULs into five convoys", func() {
			ops := make([]convoy.Operation, 0, 5)
			inputs := make([]uint64, 0, 10)
			for i := 0; i < 5; i++ {
				a := vec(fmt.Sprintf("a%d", i))
				b := vec(fmt.Sprintf("b%d", i))
				c := vec(fmt.Sprintf("c%d", i))
				inputs = append(inputs, a, b)
				ops = append(ops, convoy.Mul(vl, a, b, c))
			}

			convoys := packer.Pack(ops, convoy.RegisterFile{})
			Expect(convoys).To(HaveLen(5))

			var loads fetch.Segment
			for _, c := range convoys {
				Expect(c.Ops).To(HaveLen(1))
				Expect(c.Muls()).To(Equal(1))
				loads.Append(fetch.NewEvent(0, c.Loads...))
			}
			Expect(loads.Addresses()).To(ConsistOf(toAny(inputs)...))
		})

		It("should never put two MULs in one convoy", func() {
			a, b := vec("a"), vec("b")
			ops := []convoy.Operation{
				convoy.Mul(vl, a, b, vec("t")),
				convoy.Mul(vl, a, b, vec("u")),
			}
			Expect(packer.Pack(ops, convoy.RegisterFile{})).To(HaveLen(2))
		})

		It("should reject a third ADD/SUB", func() {
			a, b := vec("a"), vec("b")
			ops := []convoy.Operation{
				convoy.Add(vl, a, b, vec("s")),
				convoy.Sub(vl, a, b, vec("d")),
				convoy.Add(vl, a, b, vec("e")),
			}
			convoys := packer.Pack(ops, convoy.RegisterFile{})
			Expect(convoys).To(HaveLen(2))
			Expect(convoys[0].AddSubs()).To(Equal(2))
			Expect(convoys[0].Loads).To(HaveLen(2))
		})

		It("should reject an operation needing a third fresh load", func() {
			a, b, c := vec("a"), vec("b"), vec("c")
			t := vec("t")
			ops := []convoy.Operation{
				convoy.Mul(vl, a, b, t),
				convoy.Add(vl, t, c, vec("u")),
			}
			convoys := packer.Pack(ops, convoy.RegisterFile{})
			Expect(convoys).To(HaveLen(2))
			Expect(convoys[1].Loads).To(Equal([]fetch.Range{fetch.Span(c, vl*cfg.ElementBytes)}))
		})

		It("should fill a convoy with one MUL and two ADD/SUB", func() {
			a, b := vec("a"), vec("b")
			t, u := vec("t"), vec("u")
			ops := []convoy.Operation{
				convoy.Mul(vl, a, b, t),
				convoy.Add(vl, t, a, u),
				convoy.Sub(vl, u, b, u),
				convoy.Add(vl, u, u, vec("x")),
			}
			convoys := packer.Pack(ops, convoy.RegisterFile{})
			Expect(convoys).To(HaveLen(2))
			Expect(convoys[0].Ops).To(HaveLen(3))
		})

		It("should not count zero addresses or preloaded ranges as fresh loads", func() {
			a, b, c, d := vec("a"), vec("b"), vec("c"), vec("d")
			mem.Preload(c, vl*cfg.ElementBytes)
			mem.Preload(d, vl*cfg.ElementBytes)

			ops := []convoy.Operation{
				convoy.Mul(vl, a, b, vec("t")),
				convoy.Add(vl, c, d, vec("u")),
				convoy.Add(vl, 0, c, vec("v")),
			}
			convoys := packer.Pack(ops, convoy.RegisterFile{})
			Expect(convoys[0].Ops).To(HaveLen(2))
			Expect(convoys[0].Loads).To(HaveLen(2))
		})
	})

	Describe("register file", func() {
		It("should carry the exit state into the next convoy", func() {
			a, b, c := vec("a"), vec("b"), vec("c")
			t := vec("t")
			ops := []convoy.Operation{
				convoy.Mul(vl, a, b, t),
				convoy.Mul(vl, t, c, vec("u")),
			}
			convoys := packer.Pack(ops, convoy.RegisterFile{})
			Expect(convoys).To(HaveLen(2))
			Expect(convoys[1].Entry).To(Equal(convoys[0].Exit))
			Expect(convoys[1].Loads).To(ConsistOf(fetch.Span(c, vl*cfg.ElementBytes)))
		})

		It("should tag outputs as intermediate or final", func() {
			a, b := vec("a"), vec("b")
			t, out := vec("t"), vec("out")
			convoys := packer.Pack([]convoy.Operation{
				convoy.Mul(vl, a, b, t),
				convoy.Add(vl, t, t, out).AsFinal(),
			}, convoy.RegisterFile{})
			Expect(convoys).To(HaveLen(1))

			exit := convoys[0].Exit
			size := vl * cfg.ElementBytes
			Expect(exit.Slots[exit.Lookup(fetch.Span(t, size))].Kind).To(Equal(convoy.Intermediate))
			Expect(exit.Slots[exit.Lookup(fetch.Span(out, size))].Kind).To(Equal(convoy.Final))
			Expect(exit.Slots[exit.Lookup(fetch.Span(a, size))].Kind).To(Equal(convoy.NotOutput))
		})

		It("should evict the first slot unused by the open convoy", func() {
			size := vl * cfg.ElementBytes
			rf := convoy.RegisterFile{}
			for i := range rf.Slots {
				rf.Slots[i] = convoy.Slot{Addr: vec(fmt.Sprintf("r%d", i)), Len: size, Valid: true}
			}
			pinned := []fetch.Range{rf.Slots[0].Range(), rf.Slots[2].Range()}
			Expect(rf.Victim(pinned)).To(Equal(1))
			Expect(rf.Free(pinned)).To(Equal(2))
		})

		It("should never evict a range referenced inside the convoy", func() {
			rng := rand.New(rand.NewSource(42))
			pool := make([]uint64, 12)
			for i := range pool {
				pool[i] = vec(fmt.Sprintf("p%d", i))
			}
			pick := func() uint64 {
				if rng.Intn(8) == 0 {
					return 0
				}
				return pool[rng.Intn(len(pool))]
			}

			ops := make([]convoy.Operation, 0, 300)
			for i := 0; i < 300; i++ {
				op := convoy.Operation{
					VectorLength: vl,
					In0:          pick(),
					In1:          pick(),
					Out:          pool[rng.Intn(len(pool))],
					Kind:         convoy.Kind(rng.Intn(3)),
					Final:        rng.Intn(4) == 0,
				}
				if rng.Intn(3) == 0 {
					op = op.Scalar()
				}
				ops = append(ops, op)
			}

			convoys := packer.Pack(ops, convoy.RegisterFile{})
			total := 0
			for _, c := range convoys {
				total += len(c.Ops)
				Expect(len(c.Ops)).To(BeNumerically("<=", convoy.MaxOps))
				Expect(c.Muls()).To(BeNumerically("<=", convoy.MaxMuls))
				Expect(c.AddSubs()).To(BeNumerically("<=", convoy.MaxAddSubs))
				Expect(len(c.Loads)).To(BeNumerically("<=", convoy.MaxFreshLoads))
				for _, op := range c.Ops {
					for _, r := range op.Operands(cfg.ElementBytes) {
						Expect(c.Exit.Covers(r)).To(BeTrue(), "convoy lost %s of %s", r, op)
					}
				}
			}
			Expect(total).To(Equal(len(ops)))
		})
	})

	Describe("hazards", func() {
		It("should tolerate a RAW hazard inside one convoy", func() {
			a, b := vec("a"), vec("b")
			t := vec("t")
			producer := convoy.Mul(vl, a, b, t)
			consumer := convoy.Add(vl, t, a, vec("u"))

			Expect(convoy.Detect(producer, consumer, cfg.ElementBytes)).To(Equal(convoy.RAW))
			Expect(packer.Pack([]convoy.Operation{producer, consumer}, convoy.RegisterFile{})).To(HaveLen(1))
		})

		It("should detect hazards by range overlap", func() {
			size := vl * cfg.ElementBytes
			base := vec("big")
			writer := convoy.Mul(vl, vec("x"), vec("y"), base)
			overlapping := convoy.Add(vl, base+size/2, 0, vec("z"))
			Expect(convoy.Detect(writer, overlapping, cfg.ElementBytes)).To(Equal(convoy.RAW))

			rewriter := convoy.Add(vl, vec("p"), vec("q"), base+8)
			Expect(convoy.Detect(writer, rewriter, cfg.ElementBytes)).To(Equal(convoy.WAW))

			reader := convoy.Add(vl, vec("r"), vec("s"), vec("o"))
			clobber := convoy.Sub(vl, vec("m"), vec("n"), reader.In0)
			Expect(convoy.Detect(reader, clobber, cfg.ElementBytes)).To(Equal(convoy.WAR))
			Expect(convoy.Detect(reader, writer, cfg.ElementBytes)).To(Equal(convoy.NoHazard))
		})

		It("should batch independent operations", func() {
			a, b, c := vec("a"), vec("b"), vec("c")
			t, u := vec("t"), vec("u")
			ops := []convoy.Operation{
				convoy.Mul(vl, a, b, vec("o1")),
				convoy.Mul(vl, b, c, t),
				convoy.Add(vl, t, a, u),
				convoy.Add(vl, a, c, vec("o2")),
			}
			batches := convoy.BatchIndependent(ops, cfg.ElementBytes)
			Expect(batches).To(HaveLen(2))
			Expect(batches[0]).To(HaveLen(2))
			Expect(batches[1]).To(HaveLen(2))
		})
	})

	Describe("drains", func() {
		It("should drain finals always and intermediates only when used later", func() {
			size := vl * cfg.ElementBytes
			a, b, c := vec("a"), vec("b"), vec("c")
			t, dead, out := vec("t"), vec("dead"), vec("out")

			convoys := packer.Pack([]convoy.Operation{
				convoy.Mul(vl, a, b, t),
				convoy.Add(vl, a, b, dead),
				convoy.Mul(vl, t, c, out).AsFinal(),
			}, convoy.RegisterFile{})
			Expect(convoys).To(HaveLen(2))

			convoy.DeriveDrains(convoys, cfg.ElementBytes)
			Expect(convoys[0].Drains).To(ConsistOf(fetch.Span(t, size)))
			Expect(convoys[1].Drains).To(ConsistOf(fetch.Span(out, size)))
		})
	})
})

var _ = Describe("VectorChain kernel", func() {
	var (
		cfg *arch.Config
		mem *arena.Arena
	)

	BeforeEach(func() {
		cfg = arch.DefaultConfig().
			WithArenaBytes(1 << 20).
			WithBufferBytes(1024).
			WithMaxVectorLength(64)
		mem = arena.New(cfg)
		mem.MustAlloc("null", cfg.Alignment)
	})

	It("should open a new window when the footprint exceeds the buffers", func() {
		size := uint64(64) * cfg.ElementBytes
		ops := make([]convoy.Operation, 0, 3)
		for i := 0; i < 3; i++ {
			a := mem.MustAlloc(fmt.Sprintf("a%d", i), size)
			b := mem.MustAlloc(fmt.Sprintf("b%d", i), size)
			o := mem.MustAlloc(fmt.Sprintf("o%d", i), size)
			ops = append(ops, convoy.Mul(64, a, b, o).AsFinal())
		}

		chain, err := convoy.NewVectorChain(cfg, mem, ops)
		Expect(err).NotTo(HaveOccurred())
		Expect(kernel.Build(chain)).To(Succeed())
		Expect(kernel.Check(chain)).To(Succeed())

		Expect(chain.Windows()).To(HaveLen(3))
		Expect(chain.Prefetch().Len()).To(Equal(3))
		for i, e := range chain.Prefetch().Events {
			Expect(e.Bytes()).To(Equal(2 * size))
			Expect(e.Delay).To(Equal(ops[i].Delay(cfg.Lanes())))
			Expect(chain.ReadRequest().Lines[i]).To(Equal(2 * size / cfg.LineBytes))
		}
		for i, e := range chain.Drain().Events {
			Expect(e.Ranges).To(ConsistOf(fetch.Span(ops[i].Out, size)))
			Expect(e.Delay).To(BeZero())
		}

		Expect(chain.ComputationCost()).To(Equal(uint64(3 * 64)))
		Expect(chain.KernelTypeName()).To(Equal(arch.FamilyVectorChain))
	})

	It("should keep a chain that fits in a single window", func() {
		size := uint64(16) * cfg.ElementBytes
		a := mem.MustAlloc("a", size)
		b := mem.MustAlloc("b", size)
		t := mem.MustAlloc("t", size)
		out := mem.MustAlloc("out", size)

		chain, err := convoy.NewVectorChain(cfg, mem, []convoy.Operation{
			convoy.Mul(16, a, b, t),
			convoy.Add(16, t, b, out).AsFinal(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(kernel.Build(chain)).To(Succeed())

		Expect(chain.Windows()).To(HaveLen(1))
		Expect(chain.Convoys()).To(HaveLen(1))
		Expect(chain.Prefetch().Addresses()).To(Equal([]uint64{a, b}))
		Expect(chain.Drain().Addresses()).To(Equal([]uint64{out}))
	})

	It("should reject operations longer than the maximum vector length", func() {
		_, err := convoy.NewVectorChain(cfg, mem, []convoy.Operation{convoy.Mul(65, 64, 128, 256)})
		Expect(err).To(HaveOccurred())
	})

	It("should split hazardous chains into independent kernels", func() {
		size := uint64(16) * cfg.ElementBytes
		a := mem.MustAlloc("a", size)
		t := mem.MustAlloc("t", size)
		chains, err := convoy.NewIndependentChains(cfg, mem, []convoy.Operation{
			convoy.Mul(16, a, a, t),
			convoy.Add(16, t, a, mem.MustAlloc("u", size)),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(chains).To(HaveLen(2))
	})
})

func toAny(values []uint64) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
