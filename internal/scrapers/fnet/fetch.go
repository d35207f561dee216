package fnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"fnet-dataget/internal/htmlutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_client_fetch_waveform = "client.fetch-waveform"
	report_client_submit         = "client.submit"
	report_client_status         = "client.status"
	report_client_download       = "client.download"
)

// markers the service embeds in its html pages
const (
	markerBusy         = "Our data server is very busy now."
	markerSizeLimit    = "Your request has been rejected because the total file size exceeds 50 MB."
	markerCouldNotOpen = "Could not open your requested file"
	markerPeekSize     = 64 * 1024
	unavailableCauses  = "possible reasons: (1) something went wrong on the F-net server, (2) no data is available in the requested time range, (3) multiple requests were made at the same time"
	busyMessage        = "the F-net data server is busy, try again later"
	sizeLimitMessage   = "request rejected, the total file size exceeds 50 MB"
)

// checkStatus maps the service's status codes onto errors.
func checkStatus(step Step, code int) error {
	switch code {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return &statusError{step: step, err: ErrAuthentication}
	case http.StatusInternalServerError:
		return &statusError{step: step, err: ErrService}
	}
	return &UnexpectedStatusError{Step: step, Code: code}
}

// FetchWaveform submits a request, checks that the service prepared it and
// downloads the archive into req.SaveDir.
//
// A service state that produced no archive (busy, too large, missing file) is
// not an error: it is returned as a Result with NoData set.
func (c *Client) FetchWaveform(ctx context.Context, req FetchRequest) (Result, error) {
	ctx, span := tracer.Start(ctx, "client:FetchWaveform")
	defer span.End()

	result, err := c.fetchWaveform(ctx, req)
	outcome := "downloaded"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.Downloaded():
		outcome = result.NoData.String()
	}
	span.SetAttributes(attribute.String("fnet.outcome", outcome))
	fetchCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return result, err
}

func (c *Client) fetchWaveform(ctx context.Context, req FetchRequest) (Result, error) {
	now := c.clock.Now()
	validated, err := validate(req, now)
	if err != nil {
		c.tel.ReportWarning(report_client_fetch_waveform, err)
		return Result{}, err
	}
	ctx = withProxies(ctx, validated.proxies)

	handle, err := c.submit(ctx, validated)
	if err != nil {
		return Result{}, err
	}
	result := Result{Handle: handle, FetchedAt: now}

	reason, message, err := c.status(ctx, handle)
	if err != nil {
		return result, err
	}
	if reason != NO_DATA_NONE {
		return c.noData(result, reason, message), nil
	}

	path := filepath.Join(validated.saveDir, string(handle))
	reason, message, err = c.download(ctx, handle, path)
	if err != nil {
		return result, err
	}
	if reason != NO_DATA_NONE {
		return c.noData(result, reason, message), nil
	}

	result.Path = path
	return result, nil
}

func (c *Client) noData(result Result, reason NoDataReason, message string) Result {
	result.NoData = reason
	result.Message = message
	c.tel.ReportWarning(report_client_fetch_waveform, reason.String(), string(result.Handle), message)
	fmt.Fprintln(c.diagnostics, message)
	return result
}

func (c *Client) submit(ctx context.Context, req request) (DataHandle, error) {
	ctx, span := tracer.Start(ctx, "client:submit")
	defer span.End()

	form := req.formData()
	c.tel.ReportDebug(report_client_submit, form)

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(datagetPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to post request")
		c.tel.ReportBroken(report_client_submit, fmt.Errorf("fetch: %w", err))
		return "", &TransportError{Step: STEP_SUBMIT, Err: err}
	}
	err = checkStatus(STEP_SUBMIT, res.StatusCode())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.tel.ReportWarning(report_client_submit, err)
		return "", err
	}

	body := string(res.Body())
	handle, ok := ExtractDataHandle(body)
	if !ok {
		span.SetStatus(codes.Error, "failed to find data handle")
		c.tel.ReportBroken(report_client_submit, fmt.Errorf("parse: data handle not found"), body)
		return "", &ResponseParseError{Body: body}
	}

	span.SetAttributes(attribute.String("fnet.handle", string(handle)))
	return handle, nil
}

// status checks whether the service managed to prepare the archive. The page
// has no explicit ready marker, the absence of the failure markers is taken
// as availability.
func (c *Client) status(ctx context.Context, handle DataHandle) (NoDataReason, string, error) {
	ctx, span := tracer.Start(ctx, "client:status")
	defer span.End()

	c.tel.ReportDebug(report_client_status, string(handle))

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("data", string(handle)).
		Get(datagetPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch status")
		c.tel.ReportBroken(report_client_status, fmt.Errorf("fetch: %w", err), string(handle))
		return NO_DATA_NONE, "", &TransportError{Step: STEP_STATUS, Err: err}
	}
	err = checkStatus(STEP_STATUS, res.StatusCode())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.tel.ReportWarning(report_client_status, err, string(handle))
		return NO_DATA_NONE, "", err
	}

	body := string(res.Body())
	if strings.Contains(body, markerBusy) {
		return NO_DATA_BUSY, busyMessage, nil
	}
	if strings.Contains(body, markerSizeLimit) {
		return NO_DATA_SIZE_LIMIT, sizeLimitMessage, nil
	}
	return NO_DATA_NONE, "", nil
}

func (c *Client) download(ctx context.Context, handle DataHandle, path string) (NoDataReason, string, error) {
	ctx, span := tracer.Start(ctx, "client:download", trace.WithAttributes(
		attribute.String("fnet.path", path),
	))
	defer span.End()

	c.tel.ReportDebug(report_client_download, "url", downloadPath+"?_f="+string(handle), "path", path)

	res, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("_f", string(handle)).
		Get(downloadPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch archive")
		c.tel.ReportBroken(report_client_download, fmt.Errorf("fetch: %w", err), string(handle))
		return NO_DATA_NONE, "", &TransportError{Step: STEP_DOWNLOAD, Err: err}
	}
	body := res.RawBody()
	defer body.Close()
	defer c.instrument.Complete(res)

	err = checkStatus(STEP_DOWNLOAD, res.StatusCode())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.tel.ReportWarning(report_client_download, err, string(handle))
		return NO_DATA_NONE, "", err
	}

	// the failure page is small html, only the head of the stream needs to
	// be inspected before committing the rest of it to disk
	reader := bufio.NewReaderSize(body, markerPeekSize)
	head, err := reader.Peek(markerPeekSize)
	if err != nil && !errors.Is(err, io.EOF) {
		span.SetStatus(codes.Error, "failed to read archive")
		c.tel.ReportBroken(report_client_download, fmt.Errorf("read: %w", err), string(handle))
		return NO_DATA_NONE, "", &TransportError{Step: STEP_DOWNLOAD, Err: err}
	}
	if strings.Contains(string(head), markerCouldNotOpen) {
		message := fmt.Sprintf("%s; %s", htmlutil.PageText(head), unavailableCauses)
		return NO_DATA_UNAVAILABLE, message, nil
	}

	written, err := writeArchive(path, reader)
	if err != nil {
		span.SetStatus(codes.Error, "failed to save archive")
		c.tel.ReportBroken(report_client_download, fmt.Errorf("save: %w", err), path)
		return NO_DATA_NONE, "", err
	}

	span.SetAttributes(attribute.Int64("fnet.bytes", written))
	c.tel.ReportDebug(report_client_download, "saved", path, written)
	return NO_DATA_NONE, "", nil
}

// writeArchive streams r into a new file at path. The file is always closed,
// and removed again if the copy did not complete.
func writeArchive(path string, r io.Reader) (written int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &InvalidPathError{Path: path, Err: err}
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("fnet: close %s: %w", path, closeErr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	written, err = io.Copy(f, r)
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return written, &InvalidPathError{Path: path, Err: err}
	}
	if err != nil {
		return written, &TransportError{Step: STEP_DOWNLOAD, Err: err}
	}
	return written, nil
}
