package credential

import (
	"testing"
	"time"
)

func TestRegistrationCandidates(t *testing.T) {
	if got := registrationCandidates("kirocli:social:token"); got != nil {
		t.Fatalf("social tokens have no registration, got %v", got)
	}
	got := registrationCandidates("kirocli:odic:token:2")
	want := []string{
		"kirocli:odic:device-registration:2",
		"kirocli:odic:device-registration",
		"codewhisperer:odic:device-registration",
	}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate %d = %s, want %s", i, got[i], want[i])
		}
	}
	got = registrationCandidates("codewhisperer:odic:token")
	if len(got) != 2 || got[0] != "codewhisperer:odic:device-registration" {
		t.Fatalf("unsuffixed codewhisperer candidates = %v", got)
	}
}

func TestParseTokenPayload(t *testing.T) {
	raw := []byte(`{"access_token":"at","refresh_token":"rt","expires_at":"2026-01-02T03:04:05Z","region":"eu-north-1","profile_arn":"arn:aws:x"}`)
	rec, err := parseTokenPayload("kirocli:social:token", raw)
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessToken != "at" || rec.RefreshToken != "rt" || rec.SSORegion != "eu-north-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", rec.ExpiresAt, want)
	}
}

func TestParseTokenPayloadOffsetExpiry(t *testing.T) {
	raw := []byte(`{"refresh_token":"rt","expires_at":"2026-01-02T03:04:05+00:00"}`)
	rec, err := parseTokenPayload("k", raw)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ExpiresAt.IsZero() {
		t.Fatalf("offset expiry should parse")
	}
}

func TestParseTokenPayloadRejectsMalformed(t *testing.T) {
	if _, err := parseTokenPayload("k", []byte(`not json`)); err == nil {
		t.Fatalf("expected parse error for invalid JSON")
	}
	if _, err := parseTokenPayload("k", []byte(`{"access_token":"x"}`)); err == nil {
		t.Fatalf("expected error for missing refresh_token")
	}
	if _, err := parseTokenPayload("k", []byte(`{"refresh_token":"rt","expires_at":"garbage"}`)); err == nil {
		t.Fatalf("expected error for malformed expires_at")
	}
}

func TestAssembleRecordsOrderAndPairing(t *testing.T) {
	tokens := map[string][]byte{
		"codewhisperer:odic:token": []byte(`{"refresh_token":"cw"}`),
		"kirocli:odic:token:2":     []byte(`{"refresh_token":"b"}`),
		"kirocli:odic:token":       []byte(`{"refresh_token":"a"}`),
		"kirocli:social:token":     []byte(`{"refresh_token":"s"}`),
	}
	registrations := map[string][]byte{
		"kirocli:odic:device-registration":   []byte(`{"client_id":"cid","client_secret":"cs","region":"us-west-2"}`),
		"kirocli:odic:device-registration:2": []byte(`{"client_id":"cid2","client_secret":"cs2"}`),
	}

	recs, err := assembleRecords(tokens, registrations)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	// Family priority: social, kirocli odic (base then :2), codewhisperer.
	wantOrder := []string{
		"kirocli:social:token",
		"kirocli:odic:token",
		"kirocli:odic:token:2",
		"codewhisperer:odic:token",
	}
	for i, key := range wantOrder {
		if recs[i].Key != key {
			t.Fatalf("record %d key = %s, want %s", i, recs[i].Key, key)
		}
	}

	if recs[0].Mechanism != MechanismDesktop {
		t.Fatalf("social token should be desktop mechanism")
	}
	if recs[1].Mechanism != MechanismDeviceOAuth || recs[1].ClientID != "cid" {
		t.Fatalf("base odic token should pair unsuffixed registration: %+v", recs[1])
	}
	if recs[1].SSORegion != "us-west-2" {
		t.Fatalf("registration region should backfill SSO region")
	}
	if recs[2].ClientID != "cid2" {
		t.Fatalf("suffixed token should prefer suffixed registration, got %s", recs[2].ClientID)
	}
	// codewhisperer token falls back to the kirocli registration.
	if recs[3].ClientID != "cid" {
		t.Fatalf("cross-family registration fallback failed: %+v", recs[3])
	}
}

func TestExpiryHelpers(t *testing.T) {
	now := time.Now()
	rec := &Record{AccessToken: "at", ExpiresAt: now.Add(time.Hour)}
	if rec.Expired(now) {
		t.Fatalf("token an hour out is not expired")
	}
	if rec.ExpiringSoon(now, 10*time.Minute) {
		t.Fatalf("token an hour out is not expiring within 10m")
	}
	if !rec.ExpiringSoon(now, 2*time.Hour) {
		t.Fatalf("token an hour out is expiring within 2h")
	}
	if !(&Record{}).ExpiringSoon(now, time.Minute) {
		t.Fatalf("empty token is always expiring")
	}
}
