package client

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scootdev/grid/common"
	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/staging"
)

type runCmd struct {
	kind        string
	attrs       string
	inputDir    string
	inputFiles  string
	outputDir   string
	outputFiles string
	mainClass   string
	classpath   string
	jvmOptions  string
	stdin       string
	wait        time.Duration
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run [flags] -- executable [args...]",
		Short: "Start a node, run one job from it and print the job's status",
		Long: "Start a node, submit one job, wait for it to end and print its status. " +
			"Exits non-zero unless the job COMPLETED. For java jobs the args are the program's arguments.",
	}
	r.Flags().StringVar(&c.kind, "kind", "native", "job kind, native or java")
	r.Flags().StringVar(&c.attrs, "attrs", "", "job attributes, e.g. 'nr.of.workers=4,malleable=true'")
	r.Flags().StringVar(&c.inputDir, "input_dir", ".", "directory the input files are read from")
	r.Flags().StringVar(&c.inputFiles, "input_files", "", "comma separated input files, relative to --input_dir")
	r.Flags().StringVar(&c.outputDir, "output_dir", "grid-out", "directory logs and output files are written to")
	r.Flags().StringVar(&c.outputFiles, "output_files", "", "comma separated files each worker leaves behind")
	r.Flags().StringVar(&c.mainClass, "main_class", "", "main class of a java job")
	r.Flags().StringVar(&c.classpath, "classpath", "", "comma separated classpath of a java job")
	r.Flags().StringVar(&c.jvmOptions, "jvm_options", "", "comma separated JVM options of a java job")
	r.Flags().StringVar(&c.stdin, "stdin", "", "text fed to every worker's stdin")
	r.Flags().DurationVar(&c.wait, "wait", 0, "give up waiting for the job after this long, 0 waits for the job's own deadline")
	return r
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *runCmd) description(args []string) (domain.Description, error) {
	var kind domain.JobKind
	if err := kind.UnmarshalText([]byte(c.kind)); err != nil {
		return domain.Description{}, err
	}
	desc := domain.Description{
		Kind:        kind,
		Stdin:       c.stdin,
		OutputFiles: splitList(c.outputFiles),
	}
	switch kind {
	case domain.JavaJob:
		desc.MainClass = c.mainClass
		desc.Classpath = splitList(c.classpath)
		desc.JVMOptions = splitList(c.jvmOptions)
		desc.Args = args
	default:
		if len(args) == 0 {
			return desc, errors.New("a native job needs an executable")
		}
		desc.Executable = args[0]
		desc.Args = args[1:]
	}
	manifest, err := staging.BuildManifest(c.inputDir, splitList(c.inputFiles))
	if err != nil {
		return desc, err
	}
	desc.InputFiles = manifest
	return desc, desc.Validate()
}

func (c *runCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	desc, err := c.description(args)
	if err != nil {
		return err
	}
	cfg, err := cl.loadConfig()
	if err != nil {
		return err
	}
	d, err := cl.startDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.close(cfg.JobConfig().CallTimeout)

	stager, err := staging.NewDirStager(c.inputDir, c.outputDir, desc)
	if err != nil {
		return err
	}
	p, err := d.node.Submit(desc, common.SplitCommaSepToMap(c.attrs), stager)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"jobID":  p.ID(),
		"argv":   desc.Argv(),
		"output": stager.OutputDir(),
	}).Info("Job submitted")

	var timeout <-chan time.Time
	if c.wait > 0 {
		timeout = time.After(c.wait)
	}
	select {
	case <-p.Done():
	case <-timeout:
		p.Cancel()
		<-p.Done()
	}

	status := p.Status()
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	if status.Phase != domain.Completed {
		return fmt.Errorf("job %s ended %s", status.JobID, status.Phase)
	}
	return nil
}
