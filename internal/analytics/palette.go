package analytics

// Palette assigns a fill colour to ranked counterparties: rank i gets
// Palette[i%len(Palette)].
var Palette = [...]string{"#0088FE", "#00C49F", "#FFBB28", "#FF8042", "#8884d8"}

func colorForRank(rank int) string {
	return Palette[rank%len(Palette)]
}
