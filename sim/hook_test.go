package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type hookedThing struct {
	*HookableBase
}

var _ = Describe("HookableBase", func() {
	var (
		thing *hookedThing
		pos   *HookPos
	)

	BeforeEach(func() {
		thing = &hookedThing{HookableBase: NewHookableBase()}
		pos = &HookPos{Name: "Test"}
	})

	It("should invoke every registered hook in order", func() {
		var calls []string
		thing.AcceptHook(HookFunc(func(ctx HookCtx) {
			calls = append(calls, "first:"+ctx.Item.(string))
		}))
		thing.AcceptHook(HookFunc(func(ctx HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(pos))
			Expect(ctx.Domain).To(BeIdenticalTo(thing))
			calls = append(calls, "second:"+ctx.Item.(string))
		}))

		thing.InvokeHook(HookCtx{Domain: thing, Pos: pos, Item: "x"})

		Expect(thing.NumHooks()).To(Equal(2))
		Expect(calls).To(Equal([]string{"first:x", "second:x"}))
	})

	It("should do nothing without hooks", func() {
		Expect(func() {
			thing.InvokeHook(HookCtx{Domain: thing, Pos: pos})
		}).NotTo(Panic())
	})
})

var _ = Describe("IDGenerator", func() {
	It("should generate sequential ids", func() {
		g := NewSequentialIDGenerator()

		Expect(g.Generate()).To(Equal("1"))
		Expect(g.Generate()).To(Equal("2"))
	})

	It("should generate unique parallel ids", func() {
		g := NewParallelIDGenerator()

		Expect(g.Generate()).NotTo(Equal(g.Generate()))
	})

	It("should refuse to change the generator once used", func() {
		GetIDGenerator().Generate()

		Expect(UseParallelIDGenerator).To(Panic())
	})
})
