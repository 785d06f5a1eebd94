package belt

// Стандартная линейка поясов BJJ. Используется как seed в миграциях
// и как каталог по умолчанию в тестах и in-memory режиме.

type seedRow struct {
	code     string
	name     string
	color    string
	order    int
	degrees  int
	perGrade int
	category Category
}

var adultSeed = []seedRow{
	{"BRANCA", "Branca", "#FFFFFF", 1, 4, 40, CategoryAdult},
	{"AZUL", "Azul", "#0066CC", 2, 4, 40, CategoryAdult},
	{"ROXA", "Roxa", "#663399", 3, 4, 40, CategoryAdult},
	{"MARROM", "Marrom", "#8B4513", 4, 4, 40, CategoryAdult},
	{"PRETA", "Preta", "#000000", 5, 10, 40, CategoryAdult},
}

var childSeed = []seedRow{
	{"BRANCA_INF", "Branca infantil", "#FFFFFF", 1, 4, 30, CategoryChild},
	{"CINZA_BRANCA_INF", "Cinza e branca", "#B0B0B0", 2, 4, 30, CategoryChild},
	{"CINZA_INF", "Cinza", "#808080", 3, 4, 30, CategoryChild},
	{"CINZA_PRETA_INF", "Cinza e preta", "#505050", 4, 4, 30, CategoryChild},
	{"AMAR_BRANCA_INF", "Amarela e branca", "#FFF176", 5, 4, 30, CategoryChild},
	{"AMARELA_INF", "Amarela", "#FFD600", 6, 4, 30, CategoryChild},
	{"AMAR_PRETA_INF", "Amarela e preta", "#C7A600", 7, 4, 30, CategoryChild},
	{"LARA_BRANCA_INF", "Laranja e branca", "#FFB74D", 8, 4, 30, CategoryChild},
	{"LARANJA_INF", "Laranja", "#FF8C00", 9, 4, 30, CategoryChild},
	{"LARA_PRETA_INF", "Laranja e preta", "#C66A00", 10, 4, 30, CategoryChild},
	{"VERDE_BRANCA_INF", "Verde e branca", "#81C784", 11, 4, 30, CategoryChild},
	{"VERDE_INF", "Verde", "#2E7D32", 12, 4, 30, CategoryChild},
	{"VERDE_PRETA_INF", "Verde e preta", "#1B5E20", 13, 4, 30, CategoryChild},
}

// DefaultDefinitions возвращает стандартный каталог: взрослая линейка
// BRANCA..PRETA и детская BRANCA_INF..VERDE_PRETA_INF.
func DefaultDefinitions() []*Definition {
	rows := make([]seedRow, 0, len(adultSeed)+len(childSeed))
	rows = append(rows, adultSeed...)
	rows = append(rows, childSeed...)

	defs := make([]*Definition, 0, len(rows))
	for _, r := range rows {
		defs = append(defs, &Definition{
			Code:                        Code(r.code),
			Name:                        r.name,
			ColorHex:                    r.color,
			DisplayOrder:                r.order,
			MaxDegrees:                  r.degrees,
			DefaultAttendancesPerDegree: r.perGrade,
			Category:                    r.category,
			Active:                      true,
		})
	}
	return defs
}

// DefaultCatalog собирает Catalog из DefaultDefinitions.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions()...)
	if err != nil {
		// seed статичен, ошибка здесь - баг в таблице выше
		panic(err)
	}
	return c
}
