package client

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scootdev/grid/common"
	"github.com/scootdev/grid/domain"
)

const DefaultHttpTries = 3

// makePesterClient retries failed status requests with exponential backoff.
func makePesterClient() *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = DefaultHttpTries
	client.LogHook = func(e pester.ErrEntry) {
		log.Debugf("Retrying after failed attempt: %+v", e)
	}
	return client
}

type statusCmd struct {
	addr string
}

func (c *statusCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "status [job id]",
		Short: "Print the jobs a node hosts, or one of them",
	}
	r.Flags().StringVar(&c.addr, "addr", common.DefaultAdminAddr, "admin address of the node")
	return r
}

func (c *statusCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	u := url.URL{Scheme: "http", Host: c.addr, Path: "/jobs"}
	if len(args) > 0 {
		u.RawQuery = url.Values{"id": []string{args[0]}}.Encode()
	}
	jobs, err := fetchStatuses(makePesterClient(), u.String())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

type httpGetter interface {
	Get(url string) (*http.Response, error)
}

func fetchStatuses(client httpGetter, u string) ([]domain.JobStatus, error) {
	resp, err := client.Get(u)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", u)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %s", u, resp.Status, body)
	}
	var jobs []domain.JobStatus
	if err := json.Unmarshal(body, &jobs); err != nil {
		return nil, errors.Wrap(err, "decoding job statuses")
	}
	return jobs, nil
}
