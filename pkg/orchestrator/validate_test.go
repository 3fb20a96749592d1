package orchestrator_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agorasim/engine-go/pkg/orchestrator"
)

var _ = Describe("Draft validation", func() {
	Describe("CleanDraft", func() {
		It("trims surrounding whitespace", func() {
			Expect(orchestrator.CleanDraft("  hot take \n")).To(Equal("hot take"))
		})

		It("strips one layer of wrapping quotes", func() {
			Expect(orchestrator.CleanDraft(`"hot take"`)).To(Equal("hot take"))
			Expect(orchestrator.CleanDraft("'hot take'")).To(Equal("hot take"))
			Expect(orchestrator.CleanDraft("\u201chot take\u201d")).To(Equal("hot take"))
		})

		It("keeps quotes inside the text", func() {
			Expect(orchestrator.CleanDraft(`they said "no" twice`)).To(Equal(`they said "no" twice`))
		})

		It("only unwraps matched pairs", func() {
			Expect(orchestrator.CleanDraft(`"dangling quote`)).To(Equal(`"dangling quote`))
		})
	})

	Describe("ValidateDraft", func() {
		It("accepts an ordinary post", func() {
			Expect(orchestrator.ValidateDraft("The bird site but with extra steps.")).To(Succeed())
		})

		It("rejects empty drafts", func() {
			Expect(orchestrator.ValidateDraft("")).To(MatchError(orchestrator.ErrDraftEmpty))
		})

		It("counts length in runes, not bytes", func() {
			exactly := strings.Repeat("\u00fc", orchestrator.MaxPostLength)
			Expect(orchestrator.ValidateDraft(exactly)).To(Succeed())

			over := strings.Repeat("\u00fc", orchestrator.MaxPostLength+1)
			Expect(orchestrator.ValidateDraft(over)).To(MatchError(orchestrator.ErrDraftTooLong))
		})

		It("rejects refusal boilerplate regardless of case", func() {
			Expect(orchestrator.ValidateDraft("As An AI, I would rather not.")).To(HaveOccurred())
			Expect(orchestrator.ValidateDraft("[insert opinion here]")).To(HaveOccurred())
		})
	})
})
