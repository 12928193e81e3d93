package transcript_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ZaguanLabs/angel/internal/transcript"
)

func roles(turns []transcript.Turn) []transcript.Role {
	out := make([]transcript.Role, len(turns))
	for i, t := range turns {
		out[i] = t.Role
	}
	return out
}

var _ = Describe("Controller", func() {
	var ctrl *transcript.Controller

	BeforeEach(func() {
		ctrl = transcript.NewController()
	})

	Describe("AppendUser", func() {
		It("appends a user turn with an id and timestamp", func() {
			turn := ctrl.AppendUser("hi")

			Expect(turn.Role).To(Equal(transcript.RoleUser))
			Expect(turn.Content).To(Equal("hi"))
			Expect(turn.ID).NotTo(BeEmpty())
			Expect(turn.CreatedAt).NotTo(BeZero())
			Expect(ctrl.Len()).To(Equal(1))
		})

		It("stores attachments on the turn", func() {
			ctrl.AppendUser("look", "cat.png", "https://x.test/dog.jpg")

			Expect(ctrl.Snapshot()[0].Attachments).To(Equal([]string{"cat.png", "https://x.test/dog.jpg"}))
		})

		Context("with a system prompt", func() {
			BeforeEach(func() {
				ctrl = transcript.NewController(transcript.WithSystemPrompt("be brief"))
			})

			It("injects the system turn before the first user turn", func() {
				ctrl.AppendUser("hi")

				turns := ctrl.Snapshot()
				Expect(roles(turns)).To(Equal([]transcript.Role{transcript.RoleSystem, transcript.RoleUser}))
				Expect(turns[0].Content).To(Equal("be brief"))
			})

			It("does not re-insert the system turn on later calls", func() {
				ctrl.AppendUser("hi")
				ctrl.AppendUser("again")

				Expect(roles(ctrl.Snapshot())).To(Equal([]transcript.Role{
					transcript.RoleSystem, transcript.RoleUser, transcript.RoleUser,
				}))
			})

			It("injects it again after Reset", func() {
				ctrl.AppendUser("hi")
				ctrl.Reset()
				ctrl.AppendUser("fresh")

				Expect(roles(ctrl.Snapshot())).To(Equal([]transcript.Role{transcript.RoleSystem, transcript.RoleUser}))
			})
		})

		It("does not inject anything without a system prompt", func() {
			ctrl.AppendUser("hi")

			Expect(roles(ctrl.Snapshot())).To(Equal([]transcript.Role{transcript.RoleUser}))
		})
	})

	Describe("streaming fragments", func() {
		It("concatenates fragments onto the placeholder", func() {
			ctrl.AppendUser("say hello")
			ctrl.BeginAssistantResponse()
			Expect(ctrl.AppendFragment("Hel")).To(Succeed())
			Expect(ctrl.AppendFragment("lo")).To(Succeed())

			last, ok := ctrl.Last()
			Expect(ok).To(BeTrue())
			Expect(last.Role).To(Equal(transcript.RoleAssistant))
			Expect(last.Content).To(Equal("Hello"))
			Expect(ctrl.InFlight()).To(BeTrue())
		})

		It("rewrites only the last turn", func() {
			ctrl.AppendUser("q")
			ctrl.BeginAssistantResponse()
			Expect(ctrl.AppendFragment("a")).To(Succeed())

			turns := ctrl.Snapshot()
			Expect(turns[0].Content).To(Equal("q"))
			Expect(turns[1].Content).To(Equal("a"))
		})

		It("stops accumulating after Finish", func() {
			ctrl.BeginAssistantResponse()
			Expect(ctrl.AppendFragment("done")).To(Succeed())
			ctrl.Finish()

			Expect(ctrl.InFlight()).To(BeFalse())
		})

		It("accepts empty fragments", func() {
			ctrl.BeginAssistantResponse()
			Expect(ctrl.AppendFragment("")).To(Succeed())
			Expect(ctrl.AppendFragment("x")).To(Succeed())

			last, _ := ctrl.Last()
			Expect(last.Content).To(Equal("x"))
		})
	})

	Describe("fragments without an in-flight response", func() {
		var logs *observer.ObservedLogs

		BeforeEach(func() {
			core, observed := observer.New(zapcore.WarnLevel)
			logs = observed
			ctrl = transcript.NewController(transcript.WithLogger(zap.New(core)))
		})

		It("recovers by starting a new assistant turn and logs it", func() {
			ctrl.AppendUser("hi")

			Expect(ctrl.AppendFragment("orphan")).To(Succeed())

			turns := ctrl.Snapshot()
			Expect(roles(turns)).To(Equal([]transcript.Role{transcript.RoleUser, transcript.RoleAssistant}))
			Expect(turns[1].Content).To(Equal("orphan"))
			Expect(ctrl.InFlight()).To(BeTrue())
			Expect(ctrl.Recoveries()).To(Equal(1))
			Expect(logs.Len()).To(Equal(1))
		})

		It("keeps following fragments on the recovered turn", func() {
			Expect(ctrl.AppendFragment("a")).To(Succeed())
			Expect(ctrl.AppendFragment("b")).To(Succeed())

			Expect(ctrl.Len()).To(Equal(1))
			last, _ := ctrl.Last()
			Expect(last.Content).To(Equal("ab"))
			Expect(ctrl.Recoveries()).To(Equal(1))
		})

		It("does not touch a finished assistant turn", func() {
			ctrl.BeginAssistantResponse()
			Expect(ctrl.AppendFragment("first")).To(Succeed())
			ctrl.Finish()

			Expect(ctrl.AppendFragment("late")).To(Succeed())

			turns := ctrl.Snapshot()
			Expect(turns).To(HaveLen(2))
			Expect(turns[0].Content).To(Equal("first"))
			Expect(turns[1].Content).To(Equal("late"))
		})

		Context("in strict mode", func() {
			BeforeEach(func() {
				ctrl = transcript.NewController(transcript.WithStrict(true))
			})

			It("rejects the fragment without mutating the transcript", func() {
				ctrl.AppendUser("hi")

				Expect(ctrl.AppendFragment("orphan")).To(MatchError(transcript.ErrNoPendingResponse))
				Expect(ctrl.Len()).To(Equal(1))
				Expect(ctrl.Recoveries()).To(BeZero())
			})
		})
	})

	Describe("Cancel", func() {
		It("keeps partial content and drops later fragments", func() {
			ctrl.AppendUser("tell me")
			ctrl.BeginAssistantResponse()
			Expect(ctrl.AppendFragment("partial")).To(Succeed())

			ctrl.Cancel()

			Expect(ctrl.AppendFragment(" more")).To(MatchError(transcript.ErrCancelled))
			last, _ := ctrl.Last()
			Expect(last.Content).To(Equal("partial"))
			Expect(ctrl.InFlight()).To(BeFalse())
			Expect(ctrl.Len()).To(Equal(2))
		})

		It("is cleared by the next response", func() {
			ctrl.BeginAssistantResponse()
			ctrl.Cancel()
			ctrl.BeginAssistantResponse()

			Expect(ctrl.AppendFragment("ok")).To(Succeed())
		})

		It("is a no-op when nothing is in flight", func() {
			ctrl.AppendUser("hi")
			ctrl.Cancel()

			Expect(ctrl.AppendFragment("x")).To(Succeed())
			Expect(ctrl.Recoveries()).To(Equal(1))
		})
	})

	Describe("SetAssistantResponse", func() {
		It("replaces the placeholder wholesale", func() {
			ctrl.AppendUser("q")
			ctrl.BeginAssistantResponse()
			Expect(ctrl.AppendFragment("draft")).To(Succeed())

			turn := ctrl.SetAssistantResponse("final", "img.png")

			Expect(ctrl.Len()).To(Equal(2))
			Expect(turn.Content).To(Equal("final"))
			Expect(turn.Attachments).To(Equal([]string{"img.png"}))
			Expect(ctrl.InFlight()).To(BeFalse())
		})

		It("appends a complete turn when nothing is in flight", func() {
			ctrl.AppendUser("q")

			ctrl.SetAssistantResponse("answer")

			turns := ctrl.Snapshot()
			Expect(roles(turns)).To(Equal([]transcript.Role{transcript.RoleUser, transcript.RoleAssistant}))
			Expect(turns[1].Content).To(Equal("answer"))
			Expect(ctrl.InFlight()).To(BeFalse())
		})
	})

	Describe("Snapshot", func() {
		BeforeEach(func() {
			ctrl.AppendUser("a", "x.png")
			ctrl.SetAssistantResponse("b")
		})

		It("returns equal sequences when nothing changed", func() {
			Expect(ctrl.Snapshot()).To(Equal(ctrl.Snapshot()))
		})

		It("is isolated from caller mutation", func() {
			snap := ctrl.Snapshot()
			snap[0].Content = "mutated"
			snap[0].Attachments[0] = "evil.png"
			_ = append(snap, transcript.Turn{Content: "extra"})

			fresh := ctrl.Snapshot()
			Expect(fresh[0].Content).To(Equal("a"))
			Expect(fresh[0].Attachments).To(Equal([]string{"x.png"}))
			Expect(fresh).To(HaveLen(2))
		})

		It("does not share attachments with the caller of AppendUser", func() {
			atts := []string{"one.png"}
			ctrl.Reset()
			ctrl.AppendUser("hi", atts...)
			atts[0] = "changed.png"

			Expect(ctrl.Snapshot()[0].Attachments).To(Equal([]string{"one.png"}))
		})
	})

	Describe("FlattenPrompt", func() {
		It("joins turn contents with newlines and skips the empty placeholder", func() {
			ctrl = transcript.NewController(transcript.WithSystemPrompt("sys"))
			ctrl.AppendUser("hello", "pic.png")
			ctrl.BeginAssistantResponse()

			Expect(ctrl.FlattenPrompt()).To(Equal("sys\nhello"))
		})

		It("includes completed assistant turns", func() {
			ctrl.AppendUser("1")
			ctrl.SetAssistantResponse("2")
			ctrl.AppendUser("3")

			Expect(ctrl.FlattenPrompt()).To(Equal("1\n2\n3"))
		})
	})

	Describe("Messages", func() {
		It("maps turns to role/content pairs", func() {
			ctrl.AppendUser("hi")
			ctrl.SetAssistantResponse("hello")

			Expect(ctrl.Messages()).To(Equal([]transcript.Message{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
			}))
		})
	})

	Describe("Load", func() {
		It("replaces the transcript without injecting a system turn", func() {
			ctrl = transcript.NewController(transcript.WithSystemPrompt("sys"))
			ctrl.Load([]transcript.Turn{{ID: "1", Role: transcript.RoleUser, Content: "old"}})
			ctrl.AppendUser("new")

			Expect(roles(ctrl.Snapshot())).To(Equal([]transcript.Role{transcript.RoleUser, transcript.RoleUser}))
		})
	})

	It("uses the injected clock", func() {
		fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		ctrl = transcript.NewController(transcript.WithClock(func() time.Time { return fixed }))

		Expect(ctrl.AppendUser("hi").CreatedAt).To(Equal(fixed))
	})
})
