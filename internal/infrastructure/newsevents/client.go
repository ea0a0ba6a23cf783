// Package newsevents queries the CAMEO-coded global events warehouse in
// BigQuery for Australian cyber activity.
package newsevents

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
)

// RawHit is one row returned by the events warehouse.
type RawHit struct {
	EventID        int64   `bigquery:"GLOBALEVENTID"`
	EventDate      int64   `bigquery:"SQLDATE"`
	Actor1Name     string  `bigquery:"Actor1Name"`
	Actor2Name     string  `bigquery:"Actor2Name"`
	EventCode      string  `bigquery:"EventCode"`
	GoldsteinScale float64 `bigquery:"GoldsteinScale"`
	NumSources     int64   `bigquery:"NumSources"`
	NumMentions    int64   `bigquery:"NumMentions"`
	AvgTone        float64 `bigquery:"AvgTone"`
	SourceURL      string  `bigquery:"SOURCEURL"`
}

// Query describes one warehouse sweep.
type Query struct {
	Range          incident.DateRange
	Keywords       []string
	Exclusions     []string
	MinSources     int64
	MaxResults     int
}

// Store is the columnar event data access contract.
type Store interface {
	NewsEventsQuery(ctx context.Context, q Query) ([]RawHit, error)
	Close() error
}

// Client runs parameterised queries against the public events dataset.
type Client struct {
	bq    *bigquery.Client
	table string
}

const defaultEventsTable = "gdelt-bq.gdeltv2.events"

// NewClient connects to BigQuery using the given project and optional
// service-account credentials file.
func NewClient(ctx context.Context, project, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	bq, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("newsevents: connecting to warehouse: %w", err)
	}
	return &Client{bq: bq, table: defaultEventsTable}, nil
}

func (c *Client) Close() error {
	return c.bq.Close()
}

// NewsEventsQuery sweeps the date window for Australian events matching
// the keyword set, excluding noise topics and requiring multi-source
// corroboration.
func (c *Client) NewsEventsQuery(ctx context.Context, q Query) ([]RawHit, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = 500
	}
	if q.MinSources <= 0 {
		q.MinSources = 2
	}

	sql := fmt.Sprintf(`
		SELECT GLOBALEVENTID, SQLDATE, Actor1Name, Actor2Name, EventCode,
		       GoldsteinScale, NumSources, NumMentions, AvgTone, SOURCEURL
		FROM %s
		WHERE SQLDATE BETWEEN @start AND @end
		  AND ActionGeo_CountryCode = 'AS'
		  AND NumSources >= @min_sources
		  AND SOURCEURL != ''
		  AND REGEXP_CONTAINS(LOWER(SOURCEURL), @keyword_pattern)
		  AND NOT REGEXP_CONTAINS(LOWER(SOURCEURL), @exclusion_pattern)
		ORDER BY NumSources DESC, GoldsteinScale ASC
		LIMIT @max_results`, "`"+c.table+"`")

	query := c.bq.Query(sql)
	query.Parameters = []bigquery.QueryParameter{
		{Name: "start", Value: sqlDate(q.Range.Start)},
		{Name: "end", Value: sqlDate(q.Range.End)},
		{Name: "min_sources", Value: q.MinSources},
		{Name: "keyword_pattern", Value: regexAlternation(q.Keywords)},
		{Name: "exclusion_pattern", Value: regexAlternation(q.Exclusions)},
		{Name: "max_results", Value: int64(q.MaxResults)},
	}

	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("newsevents: running warehouse query: %w", err)
	}

	var hits []RawHit
	for {
		var hit RawHit
		err := it.Next(&hit)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("newsevents: reading warehouse row: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// EventTime converts the warehouse YYYYMMDD integer date.
func (h *RawHit) EventTime() (time.Time, error) {
	return time.Parse("20060102", fmt.Sprintf("%08d", h.EventDate))
}

func sqlDate(t time.Time) int64 {
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

func regexAlternation(terms []string) string {
	if len(terms) == 0 {
		// Never-matching RE2 pattern keeps the query shape stable.
		return `a^`
	}
	pattern := ""
	for i, term := range terms {
		if i > 0 {
			pattern += "|"
		}
		pattern += term
	}
	return pattern
}
