package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
)

const defaultJobType = "transcription"

func (a *App) Jobs(ctx context.Context) error {
	jobs, err := a.jobService.List(ctx)
	if err != nil {
		return err
	}
	printJobs(a.out, jobs)
	return nil
}

// Job shows one job by its numeric id.
func (a *App) Job(ctx context.Context, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid job id %q", arg)
	}
	job, err := a.jobService.Get(ctx, id)
	if err != nil {
		return err
	}
	printJobs(a.out, []client.Job{*job})
	if job.OutputURI != nil {
		fmt.Fprintf(a.out, "output: %s\n", *job.OutputURI)
	}
	return nil
}

func (a *App) History(ctx context.Context) error {
	h, err := a.jobService.History(ctx)
	if err != nil {
		return err
	}
	printJobs(a.out, h.Jobs)
	s := h.Stats
	fmt.Fprintf(a.out, "total %d, in queue %d, ready for review %d, failed %d\n",
		s.Total, s.InQueue, s.ReadyForReview, s.Failed)
	return nil
}

func (a *App) Queue(ctx context.Context) error {
	q, err := a.jobService.ReviewQueue(ctx)
	if err != nil {
		return err
	}
	printJobs(a.out, q.Jobs)
	s := q.Stats
	fmt.Fprintf(a.out, "total %d, in progress %d, ready for review %d\n",
		s.Total, s.InProgress, s.ReadyForReview)
	return nil
}

// Submit creates a job from prompted fields.
func (a *App) Submit(ctx context.Context) error {
	jobType, err := getSimpleText(a.reader, "Enter job type [transcription]", a.out)
	if err != nil {
		return err
	}
	if jobType == "" {
		jobType = defaultJobType
	}
	uri, err := getOptionalText(a.reader, "Enter input URI", a.out)
	if err != nil {
		return err
	}

	job, err := a.jobService.Create(ctx, client.JobCreate{Type: jobType, InputURI: uri})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created job %d (%s)\n", job.ID, job.Status)
	return nil
}

// Upload sends a local audio file for transcription.
func (a *App) Upload(ctx context.Context, path string) error {
	res, err := a.jobService.UploadAudio(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %s\n", res.Filename, res.Detail)
	return nil
}

func printJobs(w io.Writer, jobs []client.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", j.ID, j.Type, j.Status, formatTime(j.CreatedAt.Time))
	}
	tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
