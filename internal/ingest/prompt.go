package ingest

import "strings"

const expandSystemPrompt = `You are an assistant that rewrites fragments of technical documents so they can stand alone.
You receive a fragment of a document together with the fragments that precede and follow it.
Rewrite the fragment so that it keeps all of its original information but also carries enough
surrounding context to be understood in isolation. Resolve pronouns and references using the
neighbouring fragments. Keep the result concise: add only the context needed, and do not repeat
the neighbouring fragments verbatim. Do not introduce facts that are absent from the supplied
text. Preserve the terminology and style of the source document.
Reply only with the rewritten fragment, without commentary.`

const expandUserTemplate = `Preceding fragments:
{previous_chunks}

Fragment to rewrite:
{input}

Following fragments:
{next_chunks}`

// renderExpandPrompt 填充扩写模板，缺失的邻居用空串占位
func renderExpandPrompt(prev []string, input string, next []string) string {
	r := strings.NewReplacer(
		"{previous_chunks}", strings.Join(prev, "\n"),
		"{input}", input,
		"{next_chunks}", strings.Join(next, "\n"),
	)
	return r.Replace(expandUserTemplate)
}
