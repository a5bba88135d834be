package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

type JobKind int

const (
	NativeJob JobKind = iota
	JavaJob
)

func (k JobKind) String() string {
	if k == JavaJob {
		return "java"
	}
	return "native"
}

func (k JobKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *JobKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "native", "":
		*k = NativeJob
	case "java":
		*k = JavaJob
	default:
		return fmt.Errorf("unknown job kind %q", string(b))
	}
	return nil
}

// InputFile is one entry of the pre-stage manifest. Path is relative to the
// worker's scratch directory; Hash is the hex sha256 of the content.
type InputFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Description is the immutable part of a job: what to run and which files
// go in and come out.
type Description struct {
	Kind        JobKind           `json:"kind"`
	Executable  string            `json:"executable"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Classpath   []string          `json:"classpath,omitempty"`
	MainClass   string            `json:"mainClass,omitempty"`
	JVMOptions  []string          `json:"jvmOptions,omitempty"`
	Stdin       string            `json:"stdin,omitempty"`
	InputFiles  []InputFile       `json:"inputFiles,omitempty"`
	OutputFiles []string          `json:"outputFiles,omitempty"`
}

const defaultJava = "java"

// Validate checks that d can be turned into a command line and that every
// staged path stays inside the scratch directory.
func (d Description) Validate() error {
	switch d.Kind {
	case NativeJob:
		if d.Executable == "" {
			return fmt.Errorf("native job needs an executable")
		}
	case JavaJob:
		if d.MainClass == "" {
			return fmt.Errorf("java job needs a main class")
		}
	default:
		return fmt.Errorf("unknown job kind %d", d.Kind)
	}
	for _, in := range d.InputFiles {
		if err := checkRelative(in.Path); err != nil {
			return err
		}
		if in.Hash == "" {
			return fmt.Errorf("input file %s has no hash", in.Path)
		}
	}
	for _, out := range d.OutputFiles {
		if err := checkRelative(out); err != nil {
			return err
		}
	}
	return nil
}

// Argv is the command line a worker executes.
func (d Description) Argv() []string {
	if d.Kind != JavaJob {
		return append([]string{d.Executable}, d.Args...)
	}
	java := d.Executable
	if java == "" {
		java = defaultJava
	}
	argv := []string{java}
	if len(d.Classpath) > 0 {
		argv = append(argv, "-classpath", strings.Join(d.Classpath, string(filepath.ListSeparator)))
	}
	argv = append(argv, d.JVMOptions...)
	argv = append(argv, d.MainClass)
	return append(argv, d.Args...)
}

func checkRelative(p string) error {
	clean := filepath.Clean(p)
	if p == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("staged path %q must be relative to the scratch directory", p)
	}
	return nil
}
