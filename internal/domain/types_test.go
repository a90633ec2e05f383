package domain

import (
    "encoding/json"
    "math"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

func TestPointMarshal_RendersGrafanaPair(t *testing.T) {
    at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
    b, err := json.Marshal(Series{{Value: 4.5, At: at}, {Value: math.NaN(), At: at}})
    require.NoError(t, err)
    require.JSONEq(t, `[[4.5, 1740787200000], [null, 1740787200000]]`, string(b))
}

func TestWindowUpper_ClipsAtNow(t *testing.T) {
    now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
    w := Window{Now: now, To: now.AddDate(0, 0, 7)}
    require.Equal(t, now, w.Upper())
    w.To = now.AddDate(0, 0, -7)
    require.Equal(t, w.To, w.Upper())
}

func TestSeriesLast_EmptyIsNaN(t *testing.T) {
    require.True(t, math.IsNaN(Series{}.Last()))
}

func TestIssueTypeLeaf(t *testing.T) {
    require.True(t, TypeStory.Leaf())
    require.True(t, TypeBug.Leaf())
    require.False(t, TypeEpic.Leaf())
    require.False(t, TypeInitiative.Leaf())
}
