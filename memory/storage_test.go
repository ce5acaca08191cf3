package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/lazyvm/memory"
)

var _ = Describe("Storage", func() {
	It("should read and write in single unit", func() {
		storage := memory.NewStorage(4096)
		Expect(storage.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(0, 2)
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = storage.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := memory.NewStorage(8192)
		Expect(storage.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(4094, 4)
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should return error if accessing over the capacity", func() {
		storage := memory.NewStorage(4096)
		err := storage.Write(4097, []byte{1})
		Expect(err).To(MatchError(memory.ErrOutOfRange))

		_, err = storage.Read(4095, 2)
		Expect(err).To(MatchError(memory.ErrOutOfRange))
	})

	It("should read zeros from untouched units", func() {
		storage := memory.NewStorage(8192)

		res, err := storage.Read(4096, 4)

		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(Equal([]byte{0, 0, 0, 0}))
		Expect(storage.NumAllocatedUnits()).To(Equal(1))
	})

	It("should zero partial and whole units", func() {
		storage := memory.NewStorage(8192)
		Expect(storage.Write(4090, []byte{9, 9, 9, 9, 9, 9, 9, 9})).
			To(Succeed())

		Expect(storage.Zero(4092, 4100)).To(Succeed())
		Expect(storage.NumAllocatedUnits()).To(Equal(1))

		res, _ := storage.Read(4090, 8)
		Expect(res).To(Equal([]byte{9, 9, 0, 0, 0, 0, 0, 0}))
	})
})
