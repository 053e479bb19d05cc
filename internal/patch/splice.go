package patch

import "strings"

// Apply returns content with op applied. An operation whose search text does
// not occur, or an add without a position, is a no-op.
func Apply(content string, op Operation) string {
	if op.Search == "" || !strings.Contains(content, op.Search) {
		return content
	}

	if op.Kind == KindReplace {
		return strings.ReplaceAll(content, op.Search, op.Payload)
	}

	switch op.Position {
	case PositionAfter:
		return strings.ReplaceAll(content, op.Search, op.Search+op.Payload)
	case PositionBefore:
		return strings.ReplaceAll(content, op.Search, op.Payload+op.Search)
	case PositionReplace:
		index := 0
		if op.Index != nil {
			index = *op.Index
		}
		if index < 0 {
			return strings.ReplaceAll(content, op.Search, op.Payload)
		}
		return insertAt(content, op.Search, op.Payload, index)
	}
	return content
}

// insertAt keeps every occurrence of search and puts payload directly in
// front of occurrence index. An index past the last occurrence changes
// nothing.
func insertAt(content, search, payload string, index int) string {
	parts := strings.Split(content, search)
	var b strings.Builder
	b.Grow(len(content) + len(payload))
	for i, part := range parts {
		b.WriteString(part)
		if i < len(parts)-1 {
			if i == index {
				b.WriteString(payload)
			}
			b.WriteString(search)
		}
	}
	return b.String()
}

// ApplyAll applies ops in order.
func ApplyAll(content string, ops []Operation) string {
	for _, op := range ops {
		content = Apply(content, op)
	}
	return content
}
