package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortCitywideOrdersByParsedRating(t *testing.T) {
	list, err := DecodeList([]byte(`[{"id":"a","rating":4.2},{"id":"b","rating":"abc"},{"id":"c","rating":4.8}]`))
	require.NoError(t, err)

	sorted := SortCitywide(list)
	require.Equal(t, []string{"c", "a", "b"}, ids(sorted))
	require.Equal(t, "4.8", sorted[0].Rating.String())
	require.Equal(t, `"abc"`, sorted[2].Rating.String())
	require.Equal(t, []string{"a", "b", "c"}, ids(list), "input must not be reordered")
}

func TestSortCitywideStableForTiesAndMissing(t *testing.T) {
	list := []Business{
		{ID: "1"},
		{ID: "2", Rating: StringRating("4.5")},
		{ID: "3", Rating: NumberRating(4.5)},
		{ID: "4", Rating: Rating("null")},
		{ID: "5", Rating: NumberRating(-1)},
	}
	require.Equal(t, []string{"2", "3", "5", "1", "4"}, ids(SortCitywide(list)))
}

func TestSortCitywideNeverRanksNegativeBelowUnparseable(t *testing.T) {
	list, err := DecodeList([]byte(`[{"id":"bad","rating":"abc"},{"id":"neg","rating":-2},{"id":"zero","rating":0},{"id":"good","rating":"3.5"},{"id":"none"}]`))
	require.NoError(t, err)

	require.Equal(t, []string{"good", "neg", "zero", "bad", "none"}, ids(SortCitywide(list)))
	require.Zero(t, list[1].Rating.Value())
	v, ok := list[1].Rating.Parsed()
	require.True(t, ok)
	require.InDelta(t, -2, v, 1e-9)
}

func TestSortNearestPlacesClosestFirst(t *testing.T) {
	list := []Business{
		{ID: "far", Location: Point{Lat: 0, Lng: 1}},
		{ID: "here", Location: Point{Lat: 0, Lng: 0}},
	}
	sorted := SortNearest(list, Point{Lat: 0, Lng: 0})
	require.Equal(t, []string{"here", "far"}, ids(sorted))
	require.NotNil(t, sorted[0].Distance)
	require.InDelta(t, 0, *sorted[0].Distance, 1e-9)
	require.InDelta(t, 111.19, *sorted[1].Distance, 0.01)
	require.Nil(t, list[0].Distance, "distance is attached to the sorted copy only")
}

func TestSortNearestStableForEqualDistance(t *testing.T) {
	list := []Business{
		{ID: "east", Location: Point{Lat: 0, Lng: 1}},
		{ID: "west", Location: Point{Lat: 0, Lng: -1}},
		{ID: "center", Location: Point{Lat: 0, Lng: 0}},
	}
	require.Equal(t, []string{"center", "east", "west"}, ids(SortNearest(list, Point{})))
}

func TestSortRequiresLocationForNearest(t *testing.T) {
	_, err := Sort(nil, ModeNearest, nil)
	require.ErrorIs(t, err, ErrLocationRequired)
}

func TestViewResortsFromOriginalData(t *testing.T) {
	list := []Business{
		{ID: "a", Location: Point{Lat: 41.05, Lng: 29.0}, Rating: NumberRating(3.9)},
		{ID: "b", Location: Point{Lat: 41.01, Lng: 28.98}, Rating: NumberRating(4.9)},
		{ID: "c", Location: Point{Lat: 40.99, Lng: 29.03}, Rating: NumberRating(3.9)},
	}
	view := NewView(list, ModeCitywide)
	sorted, err := view.Sorted()
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, ids(sorted))

	require.ErrorIs(t, view.SetMode(ModeNearest), ErrLocationRequired)
	_, err = view.Sorted()
	require.ErrorIs(t, err, ErrLocationRequired)

	require.NoError(t, view.SetLocation(Point{Lat: 41.05, Lng: 29.0}))
	sorted, err = view.Sorted()
	require.NoError(t, err)
	require.Equal(t, "a", sorted[0].ID)

	// 回到 citywide 时 a 与 c 同分，仍按原始输入顺序而非上一次的距离顺序。
	require.NoError(t, view.SetLocation(Point{Lat: 40.99, Lng: 29.03}))
	require.NoError(t, view.SetMode(ModeCitywide))
	sorted, err = view.Sorted()
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, ids(sorted))
	for _, b := range sorted {
		require.Nil(t, b.Distance)
	}
}

func TestBusinessJSONKeepsUnknownFields(t *testing.T) {
	list, err := DecodeList([]byte(`{"businesses":[{"id":7,"name":"Döner Evi","location":{"lat":41.0,"lng":29.0},"rating":"4.4","category":"kebap"}]}`))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "7", list[0].ID)
	require.InDelta(t, 4.4, list[0].Rating.Value(), 1e-9)

	sorted := SortNearest(list, Point{Lat: 41.0, Lng: 29.0})
	raw, err := json.Marshal(sorted[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"7","name":"Döner Evi","location":{"lat":41.0,"lng":29.0},"rating":"4.4","category":"kebap","distance":0}`, string(raw))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeNearest, mode)
	mode, err = ParseMode("CityWide")
	require.NoError(t, err)
	require.Equal(t, ModeCitywide, mode)
	_, err = ParseMode("random")
	require.Error(t, err)
}

func ids(list []Business) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.ID
	}
	return out
}
