package chunker

// Default chunking parameters. A passage covers one stride of the text plus
// the overlap into the following stride, so consecutive passages share context.
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// Passage is a bounded slice of extracted text, the unit of embedding and of
// vector-index storage. Start and End are rune offsets into the original text,
// preserved for highlighting.
type Passage struct {
	Ordinal int
	Start   int
	End     int
	Text    string
}

// Chunker splits extracted text into overlapping fixed-size passages.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker. Non-positive or inconsistent values fall back to the
// defaults.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into passages of size+overlap runes starting every size
// runes. The same input always yields the same boundaries. A text shorter than
// one chunk yields exactly one passage; a trailing remainder shorter than the
// overlap is merged into the previous passage instead of becoming its own.
func (c *Chunker) Chunk(text string) []Passage {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var passages []Passage
	for start := 0; start < len(runes); start += c.size {
		remainder := len(runes) - start
		if remainder < c.overlap && len(passages) > 0 {
			// Too short to stand alone; extend the previous passage.
			prev := &passages[len(passages)-1]
			prev.End = len(runes)
			prev.Text = string(runes[prev.Start:])
			break
		}

		end := start + c.size + c.overlap
		if end > len(runes) {
			end = len(runes)
		}
		passages = append(passages, Passage{
			Ordinal: len(passages),
			Start:   start,
			End:     end,
			Text:    string(runes[start:end]),
		})
	}
	return passages
}
