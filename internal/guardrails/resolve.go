package guardrails

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Partial is a sign whose fields may not have been supplied yet.
// A nil field means "not given"; an empty string is a literal answer.
type Partial struct {
	Name        *string
	Trigger     *string
	Instruction *string
	Reason      *string
}

// Prompter asks for a single field value. def is shown as the default and
// returned when the answer is empty; an empty def means no default.
type Prompter interface {
	Ask(label, def string) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(label, def string) (string, error)

// Ask implements Prompter.
func (f PrompterFunc) Ask(label, def string) (string, error) {
	return f(label, def)
}

// Prompt labels, in the order fields are elicited.
const (
	LabelName        = "Sign name"
	LabelTrigger     = "Trigger (when does this apply?)"
	LabelInstruction = "Instruction (what to do instead?)"
	LabelReason      = "Added after (why was this added?)"
)

// Resolve fills every missing field of p, asking prompter for each one in
// order name, trigger, instruction, reason. Only the reason has a default.
func Resolve(p Partial, prompter Prompter) (Sign, error) {
	var sign Sign
	var err error
	if sign.Name, err = resolveField(p.Name, LabelName, "", prompter); err != nil {
		return Sign{}, err
	}
	if sign.Trigger, err = resolveField(p.Trigger, LabelTrigger, "", prompter); err != nil {
		return Sign{}, err
	}
	if sign.Instruction, err = resolveField(p.Instruction, LabelInstruction, "", prompter); err != nil {
		return Sign{}, err
	}
	if sign.Reason, err = resolveField(p.Reason, LabelReason, DefaultReason, prompter); err != nil {
		return Sign{}, err
	}
	return sign, nil
}

func resolveField(value *string, label, def string, prompter Prompter) (string, error) {
	if value != nil {
		return *value, nil
	}
	if prompter == nil {
		return "", fmt.Errorf("%s: no value given and no prompter available", label)
	}
	answer, err := prompter.Ask(label, def)
	if err != nil {
		return "", fmt.Errorf("prompt %q: %w", label, err)
	}
	return answer, nil
}

// LinePrompter reads one line per answer from in and writes prompts to out.
type LinePrompter struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewLinePrompter creates a prompter over the given streams.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{reader: bufio.NewReader(in), out: out}
}

// Ask implements Prompter.
func (p *LinePrompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s (%s): ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && def != "" {
		return def, nil
	}
	return line, nil
}
