package resolver_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"kin-go/internal/kin"
	"kin-go/internal/people"
	"kin-go/internal/resolver"
	"kin-go/internal/testutil"
)

type fixture struct {
	resolver *resolver.Resolver
	store    *people.Store
	clock    *testutil.StubClock
}

func newFixture(t *testing.T, persons ...*kin.PersonEntity) *fixture {
	t.Helper()
	return newFixtureWithOptions(t, resolver.Options{}, persons...)
}

func newFixtureWithOptions(t *testing.T, opts resolver.Options, persons ...*kin.PersonEntity) *fixture {
	t.Helper()
	store := testutil.NewTestPersonStore()
	testutil.SeedPersons(t, store, persons...)
	clock := testutil.FixedClock()
	r := resolver.New(store, opts, kin.NewNopLogger(), clock, testutil.NewStubIDGenerator())
	return &fixture{resolver: r, store: store, clock: clock}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func withEmail(p *kin.PersonEntity, emails ...string) *kin.PersonEntity {
	p.Emails = emails
	return p
}

func withStrength(p *kin.PersonEntity, s float64) *kin.PersonEntity {
	p.RelationshipStrength = s
	return p
}

func TestResolve_ExactEmailDominatesName(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withEmail(testutil.NewPerson("p1", "Alice Smith"), "alice@example.com"))

	res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{
		Name:            "Bob Jones",
		Email:           "Alice Smith <ALICE@example.com>",
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != kin.OutcomeMatched || res.Person.ID != "p1" {
		t.Fatalf("Resolve() = %s %v, want matched p1", res.Outcome, res.Person)
	}
	if res.Confidence != 1.0 || res.Reason != kin.ReasonEmailExact {
		t.Errorf("confidence=%v reason=%s, want 1.0 email_exact", res.Confidence, res.Reason)
	}
	if f.store.Len() != 1 {
		t.Errorf("store has %d persons, want 1", f.store.Len())
	}
}

func TestResolve_ExactPhone(t *testing.T) {
	t.Parallel()
	p := testutil.NewPerson("p1", "Alice Smith")
	p.PhoneNumbers = []string{"+12015550123"}
	f := newFixture(t, p)

	res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{Phone: "(201) 555-0123"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeMatched || res.Reason != kin.ReasonPhoneExact || res.Person.ID != "p1" {
		t.Errorf("Resolve() = %s %s, want phone match on p1", res.Outcome, res.Reason)
	}
}

func TestResolve_SurnameDisqualifies(t *testing.T) {
	t.Parallel()
	walker := withStrength(testutil.NewPerson("p1", "Taylor Walker"), 100)
	walker.ContextTags = []string{"Work/Acme"}
	walker.LastSeen = testutil.FixedClock().Now()
	f := newFixture(t, walker)

	req := kin.ResolveRequest{Name: "Mary Katherine Palmer", ContextPath: "Work/Acme"}
	res, err := f.resolver.Resolve(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeNone || len(res.Candidates) != 0 {
		t.Fatalf("Resolve() = %s with %d candidates, want none", res.Outcome, len(res.Candidates))
	}

	req.CreateIfMissing = true
	res, err = f.resolver.Resolve(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeCreated || res.Person.ID == "p1" {
		t.Fatalf("Resolve() = %s %v, want a new person", res.Outcome, res.Person)
	}
	if res.Person.DisplayName != "Mary Katherine Palmer" {
		t.Errorf("DisplayName = %q", res.Person.DisplayName)
	}
}

func TestResolve_FullNameMatchAccretes(t *testing.T) {
	t.Parallel()
	f := newFixtureWithOptions(t, resolver.Options{AutoAcceptConfidence: 0.7}, testutil.NewPerson("p1", "Mary Palmer"))
	observed := f.clock.Now()

	res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{
		Name:            "Mary K. Palmer",
		Email:           "mkp@acme.com",
		ContextPath:     "Work/Acme",
		ObservedAt:      observed,
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeMatched || res.Person.ID != "p1" {
		t.Fatalf("Resolve() = %s, want matched p1", res.Outcome)
	}
	if !approx(res.Confidence, 0.75) {
		t.Errorf("Confidence = %v, want 0.75", res.Confidence)
	}

	got, _ := f.store.GetByID(context.Background(), "p1")
	if !slices.Contains(got.Aliases, "Mary K Palmer") {
		t.Errorf("Aliases = %v, want the observed full name", got.Aliases)
	}
	if !slices.Contains(got.Emails, "mkp@acme.com") {
		t.Errorf("Emails = %v", got.Emails)
	}
	if !slices.Contains(got.ContextTags, "Work/Acme") {
		t.Errorf("ContextTags = %v", got.ContextTags)
	}
	if got.Company != "Acme" || got.Category != kin.CategoryWork {
		t.Errorf("Company=%q Category=%q, want Acme work", got.Company, got.Category)
	}
	if !got.FirstSeen.Equal(observed) || !got.LastSeen.Equal(observed) {
		t.Errorf("FirstSeen=%v LastSeen=%v, want %v", got.FirstSeen, got.LastSeen, observed)
	}
}

func TestResolve_WeakMatchLeavesPersonUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testutil.NewPerson("p1", "Mary Palmer"))

	res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{
		Name:            "Mary K. Palmer",
		Email:           "mkp@acme.com",
		ContextPath:     "Work/Acme",
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeMatched || res.Person.ID != "p1" || res.Confidence >= 0.95 {
		t.Fatalf("Resolve() = %s %v, want a weak match on p1", res.Outcome, res.Confidence)
	}
	got, _ := f.store.GetByID(context.Background(), "p1")
	if len(got.Emails) != 0 || len(got.Aliases) != 0 || len(got.ContextTags) != 0 {
		t.Errorf("p1 = emails %v aliases %v tags %v, want unchanged", got.Emails, got.Aliases, got.ContextTags)
	}
	if owner, _ := f.store.GetByEmail(context.Background(), "mkp@acme.com"); owner != nil {
		t.Errorf("email owned by %s after a weak match", owner.ID)
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()
	p := withEmail(testutil.NewPerson("p1", "Ann Lee"), "ann@example.com", "ann@work.com")
	p.PhoneNumbers = []string{"+12015550123"}
	f := newFixture(t, p)
	ctx := context.Background()

	got, err := f.resolver.Release(ctx, "p1", kin.ResolveRequest{Email: "ANN@example.com", Phone: "(201) 555-0123"})
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !slices.Equal(got.Emails, []string{"ann@work.com"}) || len(got.PhoneNumbers) != 0 {
		t.Errorf("after Release emails %v phones %v", got.Emails, got.PhoneNumbers)
	}
	if owner, _ := f.store.GetByEmail(ctx, "ann@example.com"); owner != nil {
		t.Errorf("released email still owned by %s", owner.ID)
	}
	if _, err := f.resolver.Release(ctx, "missing", kin.ResolveRequest{Email: "x@example.com"}); !errors.Is(err, kin.ErrNotFound) {
		t.Errorf("Release(missing) error = %v, want ErrNotFound", err)
	}
}

func TestResolve_FirstNameOnly(t *testing.T) {
	tests := []struct {
		name        string
		persons     []*kin.PersonEntity
		wantOutcome kin.Outcome
		wantID      string
	}{
		{
			name: "close strong candidates are ambiguous",
			persons: []*kin.PersonEntity{
				withStrength(testutil.NewPerson("p1", "Ben Calvin"), 60),
				withStrength(testutil.NewPerson("p2", "Ben Warren"), 55),
			},
			wantOutcome: kin.OutcomeAmbiguous,
		},
		{
			name: "one strong candidate wins the tie",
			persons: []*kin.PersonEntity{
				withStrength(testutil.NewPerson("p1", "Ben Calvin"), 60),
				withStrength(testutil.NewPerson("p2", "Ben Smith"), 10),
			},
			wantOutcome: kin.OutcomeMatched,
			wantID:      "p1",
		},
		{
			name: "clear lead wins",
			persons: []*kin.PersonEntity{
				withStrength(testutil.NewPerson("p1", "Ben Calvin"), 100),
				withStrength(testutil.NewPerson("p2", "Benjamin Smith"), 0),
			},
			wantOutcome: kin.OutcomeMatched,
			wantID:      "p1",
		},
		{
			name:        "unique candidate gets the bonus",
			persons:     []*kin.PersonEntity{testutil.NewPerson("p1", "Ben Calvin")},
			wantOutcome: kin.OutcomeMatched,
			wantID:      "p1",
		},
		{
			name: "weak candidates are not guessed",
			persons: []*kin.PersonEntity{
				testutil.NewPerson("p1", "Ben Calvin"),
				testutil.NewPerson("p2", "Ben Warren"),
			},
			wantOutcome: kin.OutcomeNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.persons...)
			res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{Name: "Ben"})
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != tt.wantOutcome {
				t.Fatalf("Outcome = %s, want %s", res.Outcome, tt.wantOutcome)
			}
			if tt.wantID != "" && res.Person.ID != tt.wantID {
				t.Errorf("Person = %s, want %s", res.Person.ID, tt.wantID)
			}
			if res.Outcome == kin.OutcomeAmbiguous {
				if res.Person != nil {
					t.Error("ambiguous result must not pick a person")
				}
				if len(res.Candidates) != 2 || res.Candidates[0].Person.ID != "p1" {
					t.Errorf("Candidates = %+v, want p1 first", res.Candidates)
				}
				if !approx(res.Confidence, 0.28) {
					t.Errorf("Confidence = %v, want 0.28", res.Confidence)
				}
			}
		})
	}
}

func TestResolve_CloseFullNamesDisambiguate(t *testing.T) {
	t.Parallel()
	first := testutil.NewPerson("p1", "John Smith")
	first.ContextTags = []string{"Work/Acme"}
	second := testutil.NewPerson("p2", "John Smith")
	second.DisplayName = "John Smith (Globex)"

	t.Run("create splits off a new person", func(t *testing.T) {
		f := newFixture(t, first.Clone(), second.Clone())
		res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{
			Name:            "John Smith",
			ContextPath:     "Family/Cousins",
			CreateIfMissing: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != kin.OutcomeCreated {
			t.Fatalf("Outcome = %s, want created", res.Outcome)
		}
		if res.Competitor == nil || res.Competitor.ID != "p1" {
			t.Errorf("Competitor = %v, want p1", res.Competitor)
		}
		if res.Person.DisplayName != "John Smith (Family)" {
			t.Errorf("DisplayName = %q, want %q", res.Person.DisplayName, "John Smith (Family)")
		}
		if !approx(res.Confidence, 0.525) {
			t.Errorf("Confidence = %v, want 0.525", res.Confidence)
		}
		if res.Person.Category != kin.CategoryFamily {
			t.Errorf("Category = %s, want family", res.Person.Category)
		}
	})

	t.Run("without create the top match has reduced confidence", func(t *testing.T) {
		f := newFixture(t, first.Clone(), second.Clone())
		res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{Name: "John Smith"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != kin.OutcomeMatched || res.Person.ID != "p1" {
			t.Fatalf("Resolve() = %s, want matched p1", res.Outcome)
		}
		if !approx(res.Confidence, 0.525) {
			t.Errorf("Confidence = %v, want 0.525", res.Confidence)
		}
	})

	t.Run("suffix falls back to source type", func(t *testing.T) {
		f := newFixture(t, first.Clone(), second.Clone())
		res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{
			Name:            "John Smith",
			SourceType:      kin.SourceContactExport,
			CreateIfMissing: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Person.DisplayName != "John Smith (Contact Export)" {
			t.Errorf("DisplayName = %q", res.Person.DisplayName)
		}
	})
}

func TestResolve_DryRunWritesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testutil.NewPerson("p1", "Mary Palmer"))

	res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{
		Name:            "Mary Palmer",
		Email:           "mary@example.com",
		CreateIfMissing: true,
		DryRun:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeMatched {
		t.Fatalf("Outcome = %s, want matched", res.Outcome)
	}
	got, _ := f.store.GetByID(context.Background(), "p1")
	if len(got.Emails) != 0 {
		t.Errorf("dry run wrote emails %v", got.Emails)
	}

	res, err = f.resolver.Resolve(context.Background(), kin.ResolveRequest{Name: "Zed Nobody", CreateIfMissing: true, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeNone || f.store.Len() != 1 {
		t.Errorf("dry run created a person: %s, %d persons", res.Outcome, f.store.Len())
	}
}

func TestResolve_NoSignals(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, req := range []kin.ResolveRequest{
		{CreateIfMissing: true},
		{Phone: "12", CreateIfMissing: true},
		{Email: "not-an-email", CreateIfMissing: true},
	} {
		res, err := f.resolver.Resolve(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != kin.OutcomeNone {
			t.Errorf("Resolve(%+v) = %s, want none", req, res.Outcome)
		}
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d persons, want 0", f.store.Len())
	}
}

func TestResolve_EmailOnlyCreatesNamedPerson(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.resolver.Resolve(context.Background(), kin.ResolveRequest{Email: "mary.k.palmer@gmail.com", CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != kin.OutcomeCreated || res.Confidence != 1.0 {
		t.Fatalf("Resolve() = %s %v, want created 1.0", res.Outcome, res.Confidence)
	}
	if res.Person.CanonicalName != "Mary K Palmer" {
		t.Errorf("CanonicalName = %q", res.Person.CanonicalName)
	}
	if res.Person.Company != "" {
		t.Errorf("Company = %q, want none for a freemail domain", res.Person.Company)
	}
}

func TestCreatePerson_SkipsOwnedIdentifiers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withEmail(testutil.NewPerson("p1", "Ann Lee"), "ann@example.com"))

	p, err := f.resolver.CreatePerson(context.Background(), kin.ResolveRequest{
		Name:  "Ann Other",
		Email: "ann@example.com",
		Phone: "+1 201 555 0123",
	})
	if err != nil {
		t.Fatalf("CreatePerson() error = %v", err)
	}
	if len(p.Emails) != 0 {
		t.Errorf("Emails = %v, want the owned email skipped", p.Emails)
	}
	if !slices.Equal(p.PhoneNumbers, []string{"+12015550123"}) {
		t.Errorf("PhoneNumbers = %v", p.PhoneNumbers)
	}
	owner, _ := f.store.GetByEmail(context.Background(), "ann@example.com")
	if owner.ID != "p1" {
		t.Errorf("email owner = %s, want p1", owner.ID)
	}
}

func TestAbsorb(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		withEmail(testutil.NewPerson("p1", "Ann Lee"), "ann@example.com"),
		testutil.NewPerson("p2", "Bob Ray"),
	)
	ctx := context.Background()

	p, err := f.resolver.Absorb(ctx, "p2", kin.ResolveRequest{Name: "Bob", Email: "ann@example.com", ContextPath: "Friends"})
	if err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	if len(p.Emails) != 0 {
		t.Errorf("Emails = %v, want owned email skipped", p.Emails)
	}
	if len(p.Aliases) != 0 {
		t.Errorf("Aliases = %v, bare first names are not aliases", p.Aliases)
	}
	if p.Category != kin.CategoryPersonal {
		t.Errorf("Category = %s, want personal", p.Category)
	}

	if _, err := f.resolver.Absorb(ctx, "missing", kin.ResolveRequest{Name: "X"}); err == nil {
		t.Error("Absorb() on a missing person should fail")
	}
}
