// Package block turns the raw text of one markdown document into typed,
// identified fenced blocks.
//
// Parsing happens in two stages. Elements splits a document into prose
// segments and raw fences without interpreting them. Parser.Parse then
// classifies every fence: it resolves the block's options (from a structured
// YAML/JSON/TOML/HCL body or from a comment preamble), decodes its Kind and
// assigns its identifier.
//
// Identifier precedence is: explicit lpid, then filepath, then continuation of
// the immediately preceding raw_block fence of the same document and language,
// then a generated identifier derived from the block's location.
package block
