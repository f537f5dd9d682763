package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser/browsertest"
	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeContacts struct {
	mu      sync.Mutex
	emails  map[string]string
	errs    map[string]error
	fetched []string
	onFetch func(website string)
}

func (f *fakeContacts) FetchEmail(ctx context.Context, website string) (listing.Field, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, website)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(website)
	}
	if err := f.errs[website]; err != nil {
		return listing.Field{}, err
	}
	if email, ok := f.emails[website]; ok {
		return listing.Value(email), nil
	}
	return listing.Field{}, nil
}

func place(i int) string { return fmt.Sprintf("https://maps.example/place/%d", i) }
func site(i int) string  { return fmt.Sprintf("https://site%d.example", i) }

func record(i int) listing.Record {
	return listing.Record{
		BusinessName: listing.Value(fmt.Sprintf("Business %d", i)),
		Address:      listing.Value(fmt.Sprintf("%d Main St", i)),
		MapsLink:     listing.Value(place(i)),
	}
}

func world(n int) (*browsertest.Browser, *fakeContacts) {
	docs := map[string]*browsertest.Document{}
	contacts := &fakeContacts{emails: map[string]string{}, errs: map[string]error{}}
	for i := 0; i < n; i++ {
		docs[place(i)] = browsertest.Place(site(i))
		contacts.emails[site(i)] = fmt.Sprintf("owner@site%d.example", i)
	}
	return browsertest.New(docs), contacts
}

func TestEnrichPopulatesWebsiteAndEmail(t *testing.T) {
	b, contacts := world(12)
	records := make([]listing.Record, 12)
	for i := range records {
		records[i] = record(i)
	}
	e := &Enricher{Workers: 5, Contacts: contacts, Logger: zaptest.NewLogger(t)}

	stats := e.Enrich(context.Background(), session.New("q", nil), b, records)

	require.Equal(t, 5, stats.Pages)
	require.Equal(t, 12, stats.Dispatched)
	require.Equal(t, 12, stats.Enriched)
	require.Equal(t, 5, b.PagesOpened())
	require.Equal(t, 5, b.PagesClosed())
	for i, r := range records {
		require.Equal(t, listing.Value(site(i)), r.Website)
		require.Equal(t, listing.Value(fmt.Sprintf("owner@site%d.example", i)), r.Email)
		require.Equal(t, fmt.Sprintf("Business %d", i), r.BusinessName.String)
	}
}

func TestEnrichPoolNeverExceedsRecords(t *testing.T) {
	b, contacts := world(2)
	records := []listing.Record{record(0), record(1)}
	e := &Enricher{Workers: 5, Contacts: contacts}

	stats := e.Enrich(context.Background(), session.New("q", nil), b, records)
	require.Equal(t, 2, stats.Pages)
	require.Equal(t, 2, b.PagesOpened())

	stats = e.Enrich(context.Background(), session.New("q", nil), b, nil)
	require.Equal(t, 0, stats.Pages)
	require.Equal(t, 2, b.PagesOpened())
}

func TestEnrichFailuresAreIsolated(t *testing.T) {
	b, contacts := world(4)
	// navigation failure
	b.Documents[place(0)].NavigateErr = errors.New("net::ERR_CONNECTION_RESET")
	// website fetch times out
	contacts.errs[site(1)] = context.DeadlineExceeded
	// no website link on the place page
	b.Documents[place(2)] = browsertest.Place("")

	records := []listing.Record{record(0), record(1), record(2), record(3)}
	records[3].MapsLink = listing.Field{}
	records = append(records, record(3))

	e := &Enricher{Workers: 3, Contacts: contacts, Logger: zaptest.NewLogger(t)}
	stats := e.Enrich(context.Background(), session.New("q", nil), b, records)

	for i := 0; i < 4; i++ {
		require.False(t, records[i].Website.Valid, "record %d", i)
		require.False(t, records[i].Email.Valid, "record %d", i)
	}
	require.Equal(t, listing.Value("1 Main St"), records[1].Address)
	require.Equal(t, listing.Value("Business 1"), records[1].BusinessName)

	require.Equal(t, listing.Value(site(3)), records[4].Website)
	require.Equal(t, listing.Value("owner@site3.example"), records[4].Email)

	require.Equal(t, 2, stats.Failed)
	require.Equal(t, 1, stats.Enriched)
}

func TestEnrichWebsiteWithoutEmail(t *testing.T) {
	b, contacts := world(1)
	delete(contacts.emails, site(0))
	records := []listing.Record{record(0)}

	(&Enricher{Workers: 1, Contacts: contacts}).Enrich(context.Background(), session.New("q", nil), b, records)
	require.Equal(t, listing.Value(site(0)), records[0].Website)
	require.False(t, records[0].Email.Valid)
}

func TestEnrichStopsDispatching(t *testing.T) {
	b, contacts := world(6)
	records := make([]listing.Record, 6)
	for i := range records {
		records[i] = record(i)
	}
	sess := session.New("q", nil)
	contacts.onFetch = func(string) { sess.Stop() }

	stats := (&Enricher{Workers: 1, Contacts: contacts}).Enrich(context.Background(), sess, b, records)

	require.Equal(t, listing.Value(site(0)), records[0].Website)
	require.Equal(t, listing.Value("owner@site0.example"), records[0].Email)
	for _, r := range records[1:] {
		require.False(t, r.Website.Valid)
		require.False(t, r.Email.Valid)
	}
	require.LessOrEqual(t, stats.Dispatched, 2)
	require.Len(t, contacts.fetched, 1)
}

func TestEnrichWithoutPages(t *testing.T) {
	b, contacts := world(2)
	b.NewPageErr = errors.New("target crashed")
	records := []listing.Record{record(0), record(1)}

	stats := (&Enricher{Workers: 2, Contacts: contacts}).Enrich(context.Background(), session.New("q", nil), b, records)
	require.Equal(t, 0, stats.Pages)
	require.False(t, records[0].Website.Valid)
	require.Empty(t, contacts.fetched)
}

func TestEnrichWaitsForPlacePanel(t *testing.T) {
	late := func() *browsertest.Browser {
		b, _ := world(1)
		for _, n := range b.Documents[place(0)].Root.Children {
			n.RenderAfter = 3
		}
		return b
	}

	b := late()
	_, contacts := world(1)
	records := []listing.Record{record(0)}
	e := &Enricher{Workers: 1, PlaceTimeout: time.Second, Contacts: contacts, Logger: zaptest.NewLogger(t)}
	stats := e.Enrich(context.Background(), session.New("q", nil), b, records)
	require.Equal(t, 1, stats.Enriched)
	require.Equal(t, listing.Value(site(0)), records[0].Website)
	require.Equal(t, listing.Value("owner@site0.example"), records[0].Email)

	// without waiting the panel is not drawn yet
	b = late()
	records = []listing.Record{record(0)}
	e.PlaceTimeout = 0
	stats = e.Enrich(context.Background(), session.New("q", nil), b, records)
	require.Equal(t, 0, stats.Enriched)
	require.False(t, records[0].Website.Valid)
}
