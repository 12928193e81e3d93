package segment_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ZaguanLabs/angel/internal/segment"
)

// reassemble concatenates the source spans of blocks.
func reassemble(src string, blocks []segment.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(src[b.Span.Start:b.Span.End])
	}
	return sb.String()
}

func kinds(blocks []segment.Block) []segment.Kind {
	out := make([]segment.Kind, len(blocks))
	for i, b := range blocks {
		out[i] = b.Kind
	}
	return out
}

var _ = Describe("Parse", func() {
	Context("with no fence markers", func() {
		DescribeTable("returns exactly one text block holding the trimmed input",
			func(input string) {
				blocks := segment.Parse(input)

				Expect(blocks).To(HaveLen(1))
				Expect(blocks[0].Kind).To(Equal(segment.KindText))
				Expect(blocks[0].Raw).To(Equal(strings.TrimSpace(input)))
				Expect(blocks[0].Content).To(Equal(strings.TrimSpace(input)))
				Expect(blocks[0].Language).To(BeEmpty())
			},
			Entry("single word", "hello"),
			Entry("surrounding whitespace", "  \n hello world \t\n"),
			Entry("multiple lines", "line one\nline two\n\nline four"),
			Entry("single backticks", "use `go test` here"),
			Entry("double backticks", "``not a fence``"),
		)

		It("returns an empty slice for empty input", func() {
			blocks := segment.Parse("")

			Expect(blocks).NotTo(BeNil())
			Expect(blocks).To(BeEmpty())
		})

		It("returns an empty slice for whitespace-only input", func() {
			Expect(segment.Parse(" \n\t ")).To(BeEmpty())
		})
	})

	Context("with fenced code", func() {
		It("captures the language tag", func() {
			blocks := segment.Parse("```js\ncode()\n```")

			Expect(blocks).To(HaveLen(1))
			Expect(blocks[0].Kind).To(Equal(segment.KindCode))
			Expect(blocks[0].Language).To(Equal("js"))
			Expect(blocks[0].Content).To(Equal("code()"))
		})

		It("falls back to plaintext without a tag", func() {
			blocks := segment.Parse("```\nx\n```")

			Expect(blocks).To(HaveLen(1))
			Expect(blocks[0].Language).To(Equal(segment.DefaultLanguage))
			Expect(blocks[0].Content).To(Equal("x"))
		})

		It("splits surrounding prose and applies emphasis only to text", func() {
			blocks := segment.Parse("hi **bold** ```py\nprint(1)\n``` bye")

			Expect(kinds(blocks)).To(Equal([]segment.Kind{segment.KindText, segment.KindCode, segment.KindText}))
			Expect(blocks[0].Content).To(Equal("hi <em>bold</em>"))
			Expect(blocks[1].Content).To(Equal("print(1)"))
			Expect(blocks[1].Language).To(Equal("py"))
			Expect(blocks[2].Content).To(Equal("bye"))
		})

		It("leaves code content unmodified", func() {
			blocks := segment.Parse("```html\n<b>**x**</b> & y\n```")

			Expect(blocks).To(HaveLen(1))
			Expect(blocks[0].Content).To(Equal("<b>**x**</b> & y"))
		})

		It("accepts language tags with punctuation", func() {
			for _, lang := range []string{"c++", "c#", "objective-c", "vue.js", "shell_session"} {
				blocks := segment.Parse("```" + lang + "\nx\n```")

				Expect(blocks).To(HaveLen(1), lang)
				Expect(blocks[0].Language).To(Equal(lang))
			}
		})

		It("tolerates trailing spaces and CRLF after the tag", func() {
			blocks := segment.Parse("```go  \r\nfmt.Println()\r\n```")

			Expect(blocks).To(HaveLen(1))
			Expect(blocks[0].Language).To(Equal("go"))
			Expect(blocks[0].Content).To(Equal("fmt.Println()"))
		})

		It("ends a block at the first closing fence", func() {
			blocks := segment.Parse("```a\none\n```\n```b\ntwo\n```")

			Expect(blocks).To(HaveLen(2))
			Expect(blocks[0].Content).To(Equal("one"))
			Expect(blocks[1].Language).To(Equal("b"))
			Expect(blocks[1].Content).To(Equal("two"))
		})

		It("keeps an empty code block", func() {
			blocks := segment.Parse("```sh\n```")

			Expect(blocks).To(HaveLen(1))
			Expect(blocks[0].Kind).To(Equal(segment.KindCode))
			Expect(blocks[0].Content).To(BeEmpty())
		})
	})

	Context("with pathological input", func() {
		It("treats an unterminated fence as text", func() {
			blocks := segment.Parse("before ```go\nfunc main() {")

			Expect(blocks).To(HaveLen(1))
			Expect(blocks[0].Kind).To(Equal(segment.KindText))
			Expect(blocks[0].Raw).To(Equal("before ```go\nfunc main() {"))
		})

		It("treats an opener without a newline as text", func() {
			blocks := segment.Parse("```go fmt.Println()```")

			Expect(kinds(blocks)).To(Equal([]segment.Kind{segment.KindText}))
		})

		It("parses a complete fence followed by an unterminated one", func() {
			blocks := segment.Parse("```a\n1\n``` then ```b\n2")

			Expect(kinds(blocks)).To(Equal([]segment.Kind{segment.KindCode, segment.KindText}))
			Expect(blocks[1].Raw).To(Equal("then ```b\n2"))
		})

		It("does not panic on fence noise", func() {
			for _, s := range []string{"```", "``````", "```\n", "\n```\n```\n```", "*****", "**"} {
				Expect(func() { segment.Parse(s) }).NotTo(Panic(), s)
			}
		})
	})

	Context("between adjacent fences", func() {
		It("elides whitespace-only gaps instead of emitting empty text blocks", func() {
			blocks := segment.Parse("```a\n1\n```\n\n   \n```b\n2\n```")

			Expect(kinds(blocks)).To(Equal([]segment.Kind{segment.KindCode, segment.KindCode}))
		})

		It("folds the elided gap into the preceding block's span", func() {
			src := "```a\n1\n```\n\n```b\n2\n```"
			blocks := segment.Parse(src)

			Expect(blocks[0].Span.End).To(Equal(blocks[1].Span.Start))
			Expect(src[blocks[0].Span.Start:blocks[0].Span.End]).To(HaveSuffix("```\n\n"))
		})

		It("folds leading whitespace into the first block's span", func() {
			src := "\n\n```a\n1\n```"
			blocks := segment.Parse(src)

			Expect(blocks).To(HaveLen(1))
			Expect(blocks[0].Span.Start).To(Equal(0))
		})
	})

	Describe("partition property", func() {
		DescribeTable("block spans reassemble the message exactly",
			func(src string) {
				Expect(reassemble(src, segment.Parse(src))).To(Equal(src))
			},
			Entry("plain text", "just words"),
			Entry("padded text", "  padded  "),
			Entry("single fence", "```js\ncode()\n```"),
			Entry("mixed", "hi **bold** ```py\nprint(1)\n``` bye"),
			Entry("leading gap", "\n\n```a\nx\n```"),
			Entry("trailing gap", "```a\nx\n```\n\n"),
			Entry("adjacent fences", "```a\nx\n``````b\ny\n```"),
			Entry("gap between fences", "```a\nx\n```\n \n```b\ny\n```"),
			Entry("unterminated", "text ```go\nno end"),
			Entry("multibyte", "héllo ```\nça va\n``` 世界"),
		)
	})
})

var _ = Describe("Emphasize", func() {
	DescribeTable("rewrites bold markers after escaping",
		func(in, want string) {
			Expect(segment.Emphasize(in)).To(Equal(want))
		},
		Entry("single", "**x**", "<em>x</em>"),
		Entry("two spans", "**a** and **b**", "<em>a</em> and <em>b</em>"),
		Entry("markup is escaped", "<script>**hi**</script>", "&lt;script&gt;<em>hi</em>&lt;/script&gt;"),
		Entry("markup inside bold is escaped", "**<b>x</b>**", "<em>&lt;b&gt;x&lt;/b&gt;</em>"),
		Entry("unbalanced markers", "**open", "**open"),
		Entry("empty markers", "****", "****"),
		Entry("does not cross lines", "**a\nb**", "**a\nb**"),
	)

	It("strips markers for plain output", func() {
		Expect(segment.StripEmphasis("a **b** c")).To(Equal("a b c"))
	})
})

var _ = Describe("HasOpenFence", func() {
	It("detects an unterminated fence", func() {
		Expect(segment.HasOpenFence("x ```go\nfunc")).To(BeTrue())
	})

	It("is false once every fence is closed", func() {
		Expect(segment.HasOpenFence("```go\nfunc\n``` done")).To(BeFalse())
		Expect(segment.HasOpenFence("no fences")).To(BeFalse())
	})

	It("detects a new fence after a closed one", func() {
		Expect(segment.HasOpenFence("```a\n1\n```\n```b\n")).To(BeTrue())
	})
})

var _ = Describe("CodeBlocks", func() {
	It("returns only code blocks in order", func() {
		blocks := segment.CodeBlocks("a ```x\n1\n``` b ```y\n2\n``` c")

		Expect(blocks).To(HaveLen(2))
		Expect(blocks[0].Language).To(Equal("x"))
		Expect(blocks[1].Language).To(Equal("y"))
	})
})
