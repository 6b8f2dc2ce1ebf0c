package resolvers

import "bytes"

const AppendLinesName = "AppendLines"

// AppendLines treats the file as text and appends every change as a line.
func AppendLines() Resolver {
	return WholeFile(AppendLinesName, func(current []byte) (Replacer, error) {
		buf := bytes.NewBuffer(append([]byte(nil), current...))
		return &appendLines{buf: buf}, nil
	})
}

type appendLines struct {
	buf *bytes.Buffer
}

func (a *appendLines) Add(record []byte) error {
	if n := a.buf.Len(); n > 0 && a.buf.Bytes()[n-1] != '\n' {
		a.buf.WriteByte('\n')
	}
	a.buf.Write(bytes.TrimRight(record, "\n"))
	a.buf.WriteByte('\n')
	return nil
}

func (a *appendLines) Data() ([]byte, error) {
	return a.buf.Bytes(), nil
}
