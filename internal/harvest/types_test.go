package harvest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		outcome Outcome
		wantErr bool
	}{
		{"success", Success(&Record{ID: "O1"}), false},
		{"transient", Transientf("timeout"), false},
		{"permanent", Permanent(ErrNotFound), false},
		{"zero value", Outcome{}, true},
		{"success without record", Outcome{Kind: OutcomeSuccess}, true},
		{"record without id", Success(&Record{}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.outcome.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrContractViolation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOutcomeReasonText(t *testing.T) {
	t.Parallel()

	require.Empty(t, Success(&Record{ID: "a"}).ReasonText())
	require.Equal(t, "boom", Transient(errors.New("boom")).ReasonText())
	require.Equal(t, "transient", OutcomeTransient.String())
	require.Equal(t, "unknown", OutcomeKind(42).String())
}

func TestWorkItemNext(t *testing.T) {
	t.Parallel()

	next := WorkItem{ID: "x", Attempt: 1}.Next()
	require.Equal(t, WorkItem{ID: "x", Attempt: 2}, next)
}

func TestFileNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "O12345.json", RecordFileName("O12345"))
	require.Equal(t, "applied_arts_1234.jpg", PrimaryAssetFileName("applied_arts/1234"))
	require.Equal(t, "O1_2.jpg", AssetFileName("O1", 2))
	require.Equal(t, "_", FileStem(".."))
	require.Equal(t, "_", FileStem("  "))
}

func TestRecordHelpers(t *testing.T) {
	t.Parallel()

	rec := &Record{
		ID:     "O1",
		Assets: []Asset{{Name: "O1_0.jpg", Data: []byte("x")}, {Name: "O1_1.jpg"}},
	}
	require.Equal(t, []string{"O1_0.jpg", "O1_1.jpg"}, rec.AssetNames())
	require.True(t, rec.Assets[0].Pending())
	require.False(t, rec.Assets[1].Pending())
	require.False(t, rec.Enriched())
	rec.Verbose = []byte(`{"a":1}`)
	require.True(t, rec.Enriched())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, OutcomeUnknown, Classify(nil).Kind)
	require.Equal(t, OutcomePermanent, Classify(&StatusError{Code: 404, URL: "u"}).Kind)
	require.Equal(t, OutcomePermanent, Classify(&StatusError{Code: 410}).Kind)
	require.Equal(t, OutcomePermanent, Classify(&StatusError{Code: 403}).Kind)
	require.Equal(t, OutcomeTransient, Classify(&StatusError{Code: 429}).Kind)
	require.Equal(t, OutcomeTransient, Classify(&StatusError{Code: 503}).Kind)
	require.Equal(t, OutcomeTransient, Classify(errors.New("connection reset")).Kind)
	require.Equal(t, OutcomePermanent, Classify(fmt.Errorf("lookup: %w", ErrNotFound)).Kind)

	require.ErrorIs(t, &StatusError{Code: 404}, ErrNotFound)
	require.NotErrorIs(t, &StatusError{Code: 500}, ErrNotFound)
	require.Equal(t, "GET http://x: http 500", (&StatusError{Code: 500, URL: "http://x"}).Error())
}
