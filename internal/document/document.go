// Package document parses lectic files: a YAML header describing the
// interlocutor followed by a markdown body where interlocutor replies
// live in :::Name ... ::: divs and everything between divs belongs to
// the user.
package document

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoHeader is returned when a file does not open with a --- fenced
// YAML header.
var ErrNoHeader = errors.New("missing yaml header")

// Interlocutor is the agent persona a document defines.
type Interlocutor struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// Header is the document's YAML front matter.
type Header struct {
	Interlocutor Interlocutor `yaml:"interlocutor"`
}

// Role tells who authored a block.
type Role string

const (
	RoleUser         Role = "user"
	RoleInterlocutor Role = "interlocutor"
)

// Block is one unit of conversation in the body. Name is set only for
// interlocutor blocks.
type Block struct {
	Role    Role
	Name    string
	Content string
}

// Document is a parsed lectic file.
type Document struct {
	Path   string
	Header Header
	Blocks []Block
}

// Parse reads a lectic document from src. Whitespace-only blocks are
// dropped.
func Parse(src string) (*Document, error) {
	header, body, err := splitHeader(src)
	if err != nil {
		return nil, err
	}
	var h Header
	if err := yaml.Unmarshal([]byte(header), &h); err != nil {
		return nil, fmt.Errorf("parse yaml header: %w", err)
	}
	if h.Interlocutor.Name == "" {
		return nil, fmt.Errorf("parse yaml header: interlocutor name is required")
	}
	doc := &Document{Header: h}
	for _, b := range parseBody(body) {
		if strings.TrimSpace(b.Content) == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, b)
	}
	return doc, nil
}

// splitHeader extracts the --- fenced YAML front matter and returns it
// with the remaining body.
func splitHeader(src string) (header, body string, err error) {
	if !strings.HasPrefix(src, "---") {
		return "", "", ErrNoHeader
	}
	rest := src[len("---"):]
	end := strings.Index(rest, "---")
	if end < 0 {
		return "", "", ErrNoHeader
	}
	return rest[:end], rest[end+len("---"):], nil
}

// parseBody splits the body into user chunks and :::Name ... ::: divs.
func parseBody(input string) []Block {
	var blocks []Block
	for input != "" {
		if strings.HasPrefix(input, ":::") {
			if blk, rest, ok := parseDiv(input); ok {
				blocks = append(blocks, blk)
				input = rest
				continue
			}
			// Unterminated div, treat the marker as user text.
			blocks = append(blocks, Block{Role: RoleUser, Content: input})
			break
		}
		idx := strings.Index(input, ":::")
		if idx < 0 {
			blocks = append(blocks, Block{Role: RoleUser, Content: input})
			break
		}
		blocks = append(blocks, Block{Role: RoleUser, Content: input[:idx]})
		input = input[idx:]
	}
	return blocks
}

// parseDiv consumes one :::Name ... ::: div from the front of input.
// Extra colons around the fences are tolerated.
func parseDiv(input string) (Block, string, bool) {
	rest := strings.TrimLeft(input, ":")
	nameEnd := strings.IndexAny(rest, ":\n")
	if nameEnd < 0 {
		return Block{}, "", false
	}
	name := strings.TrimSpace(rest[:nameEnd])
	if name == "" {
		return Block{}, "", false
	}
	rest = strings.TrimLeft(rest[nameEnd:], ":")
	rest = strings.TrimLeft(rest, " \t\r\n")
	close := strings.Index(rest, ":::")
	if close < 0 {
		return Block{}, "", false
	}
	content := rest[:close]
	rest = strings.TrimLeft(rest[close:], ":")
	return Block{Role: RoleInterlocutor, Name: name, Content: content}, rest, true
}
