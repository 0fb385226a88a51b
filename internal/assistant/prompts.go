package assistant

const answerPrompt = `You are a writing assistant answering questions about an author's manuscript. Use only the passages below to answer the question. If the passages do not contain the answer, say that you don't have that information. Never make up details about the manuscript. Keep the answer concise.
%s
Passages:
%s

Question: %s

Answer:`

const notesBlock = `
Notes from earlier in this conversation:
%s
`

const noPassages = "No supporting content found."

const summarizePrompt = `Summarize the following text concisely while preserving all key information.

Guidelines:
- Capture main ideas, key events and important details
- For narratives, include plot points, character actions and outcomes
- For technical text, preserve core concepts and conclusions
- Be clear and brief
- Do not add opinions or information that is not in the original text

Text to summarize:
%s

Summary:`
