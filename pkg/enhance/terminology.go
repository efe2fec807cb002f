package enhance

// termGroup ties bilingual trigger spellings to the English regulatory terms
// they expand into. Triggers are matched case-insensitively as substrings, so
// both the Chinese colloquial form and the English head term index the group.
type termGroup struct {
	triggers []string
	terms    []string
}

var termGroups = []termGroup{
	// Life-saving appliances
	{[]string{"救生筏", "liferaft", "life raft"}, []string{"liferaft", "life-raft", "inflatable liferaft"}},
	{[]string{"救生艇", "lifeboat"}, []string{"lifeboat", "survival craft"}},
	{[]string{"释放设备", "release mechanism"}, []string{"launching appliance", "release mechanism", "davit", "launching device"}},
	{[]string{"吊车", "davit"}, []string{"davit", "crane", "launching appliance"}},
	{[]string{"降落设备", "launching appliance"}, []string{"davit", "launching appliance", "launching device"}},
	{[]string{"抛投式", "throw-overboard"}, []string{"throw-overboard", "inflatable liferaft"}},
	{[]string{"自由降落", "free-fall", "free fall"}, []string{"free-fall", "free fall lifeboat"}},
	{[]string{"登乘梯", "embarkation ladder"}, []string{"embarkation ladder", "boarding ladder"}},
	{[]string{"救生圈", "lifebuoy"}, []string{"lifebuoy", "life buoy"}},
	{[]string{"救生衣", "lifejacket", "life jacket"}, []string{"lifejacket", "life-jacket"}},
	{[]string{"起降落"}, []string{"launching appliance", "davit", "launching device"}},
	{[]string{"救助艇", "rescue boat"}, []string{"rescue boat", "fast rescue boat"}},
	{[]string{"浸水服", "immersion suit"}, []string{"immersion suit", "anti-exposure suit"}},
	{[]string{"保温用具", "thermal protective"}, []string{"thermal protective aid"}},
	{[]string{"烟火信号", "pyrotechnic"}, []string{"pyrotechnics", "distress signal", "rocket parachute flare"}},

	// Fire safety
	{[]string{"灭火器", "fire extinguisher"}, []string{"fire extinguisher", "portable extinguisher"}},
	{[]string{"消防泵", "fire pump"}, []string{"fire pump", "fire main"}},
	{[]string{"喷淋系统", "sprinkler"}, []string{"sprinkler system", "water spraying system", "fixed fire-extinguishing"}},
	{[]string{"防火门", "fire door"}, []string{"fire door", "fire-resistant division", "A-class division"}},
	{[]string{"烟雾探测", "smoke detector"}, []string{"smoke detector", "fire detection", "smoke detection system"}},
	{[]string{"探火系统", "fire detection"}, []string{"fire detection system", "fire alarm"}},
	{[]string{"灭火系统", "fire-extinguishing"}, []string{"fire-extinguishing system", "fire fighting"}},
	{[]string{"惰性气体", "inert gas"}, []string{"inert gas system", "IGS"}},
	{[]string{"消防员装备", "fireman's outfit", "fire-fighter"}, []string{"fire-fighter's outfit", "breathing apparatus"}},

	// Structure / access
	{[]string{"通道", "means of access"}, []string{"access", "means of access", "passage", "gangway"}},
	{[]string{"开口", "clear opening"}, []string{"opening", "clear opening", "hatchway"}},
	{[]string{"双壳", "double hull"}, []string{"double hull", "double skin", "double bottom"}},
	{[]string{"水密门", "watertight door"}, []string{"watertight door", "watertight"}},
	{[]string{"舱壁", "bulkhead"}, []string{"bulkhead", "watertight bulkhead"}},
	{[]string{"干舷", "freeboard"}, []string{"freeboard"}},
	{[]string{"载重线", "load line"}, []string{"load line", "load line mark"}},
	{[]string{"货舱", "cargo hold"}, []string{"cargo hold", "cargo space"}},
	{[]string{"逃生路线", "escape route", "means of escape"}, []string{"means of escape", "escape route", "emergency escape"}},
	{[]string{"通风", "ventilation"}, []string{"ventilation", "ventilation system"}},

	// Stability
	{[]string{"稳性", "intact stability"}, []string{"stability", "intact stability"}},
	{[]string{"破舱", "damage stability"}, []string{"damage stability", "subdivision"}},

	// Pollution prevention
	{[]string{"压载水", "ballast water"}, []string{"ballast water", "ballast water management"}},
	{[]string{"排油监控", "oil discharge monitoring"}, []string{"oil discharge monitoring", "ODME"}},
	{[]string{"油水分离", "oily water separator"}, []string{"oily water separator", "15 ppm equipment"}},
	{[]string{"生活污水", "sewage"}, []string{"sewage", "sewage treatment plant"}},
	{[]string{"垃圾", "garbage"}, []string{"garbage", "garbage management plan"}},
	{[]string{"硫含量", "低硫", "sulphur"}, []string{"sulphur content", "fuel oil", "emission control area"}},

	// Ship types
	{[]string{"散货船", "bulk carrier"}, []string{"bulk carrier", "bulker"}},
	{[]string{"油轮", "oil tanker"}, []string{"oil tanker", "tanker"}},
	{[]string{"客船", "passenger ship"}, []string{"passenger ship", "passenger vessel"}},
	{[]string{"货船", "cargo ship"}, []string{"cargo ship", "cargo vessel"}},
	{[]string{"集装箱船", "container ship"}, []string{"container ship", "container vessel"}},
	{[]string{"化学品船", "chemical tanker"}, []string{"chemical tanker", "chemical carrier"}},
	{[]string{"气体船", "gas carrier"}, []string{"gas carrier", "LNG carrier", "LPG carrier"}},
	{[]string{"滚装船", "ro-ro"}, []string{"ro-ro ship", "roll-on roll-off"}},

	// Dimensions
	{[]string{"船长", "length overall"}, []string{"length", "length overall", "LOA"}},
	{[]string{"总吨", "gross tonnage"}, []string{"gross tonnage", "GT"}},
	{[]string{"载重吨", "deadweight"}, []string{"deadweight", "DWT"}},

	// Machinery / electrical
	{[]string{"舵机", "steering gear"}, []string{"steering gear", "auxiliary steering gear"}},
	{[]string{"主机", "main engine"}, []string{"main engine", "propulsion machinery"}},
	{[]string{"发电机", "generator"}, []string{"generator", "electrical installation"}},
	{[]string{"应急电源", "emergency power", "emergency source"}, []string{"emergency source of electrical power", "emergency generator"}},

	// Navigation / radio
	{[]string{"导航", "navigation"}, []string{"navigation", "navigational"}},
	{[]string{"雷达", "radar"}, []string{"radar", "ARPA"}},
	{[]string{"无线电", "radio"}, []string{"radio", "GMDSS"}},
	{[]string{"航行数据记录仪", "voyage data recorder", "vdr"}, []string{"voyage data recorder", "VDR"}},
	{[]string{"自动识别系统", "ais"}, []string{"automatic identification system", "AIS"}},
	{[]string{"电罗经", "gyro"}, []string{"gyro compass", "gyro-compass"}},
	{[]string{"测深仪", "echo sounder"}, []string{"echo sounder", "echo-sounding device"}},
	{[]string{"引航员梯", "pilot ladder"}, []string{"pilot ladder", "pilot transfer arrangement"}},
	{[]string{"应急拖带", "emergency towing"}, []string{"emergency towing", "emergency towing arrangement"}},

	// Surveys / certificates
	{[]string{"检验", "survey"}, []string{"survey", "inspection"}},
	{[]string{"证书", "certificate"}, []string{"certificate", "statutory certificate"}},
}

// topicRegulations maps matched English terms to the chapters that govern
// them. Matching is substring over the lowercased term.
var topicRegulations = map[string][]string{
	"liferaft":                 {"SOLAS III", "LSA Code"},
	"lifeboat":                 {"SOLAS III", "LSA Code"},
	"davit":                    {"SOLAS III", "LSA Code Chapter 6"},
	"launching appliance":      {"SOLAS III", "LSA Code Chapter 6"},
	"davit-launched liferaft":  {"SOLAS III/31", "SOLAS III/16", "LSA Code Chapter 6"},
	"free-fall":                {"SOLAS III/31", "LSA Code Chapter 6"},
	"fire":                     {"SOLAS II-2", "FSS Code"},
	"stability":                {"SOLAS II-1"},
	"ballast water":            {"BWM Convention"},
	"oil discharge monitoring": {"MARPOL Annex I"},
	"oily water separator":     {"MARPOL Annex I"},
	"sewage":                   {"MARPOL Annex IV"},
	"garbage":                  {"MARPOL Annex V"},
	"sulphur":                  {"MARPOL Annex VI"},
	"pollution":                {"MARPOL"},
	"access":                   {"SOLAS II-1/3-6"},
	"navigation":               {"SOLAS V", "COLREG"},
	"radio":                    {"SOLAS IV", "GMDSS"},
	"cargo ship":               {"SOLAS III/31", "SOLAS III/32"},
	"passenger ship":           {"SOLAS III/21", "SOLAS III/22"},
	"load line":                {"Load Lines Convention"},
	"steering gear":            {"SOLAS II-1/29"},
	"pilot ladder":             {"SOLAS V/23"},
}

// lsaKeywords indicate that the question is about life-saving equipment, used
// by the ship-type and length-threshold stages.
var lsaKeywords = []string{
	"救生筏", "救生艇", "liferaft", "lifeboat",
	"起降", "davit", "释放", "降落", "launching",
}

// sideKeywords indicate a per-side (port/starboard) configuration question.
var sideKeywords = []string{
	"两舷", "每舷", "both sides", "each side", "either side",
}
