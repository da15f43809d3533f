package scale

// Conversion 原始值到展示值的转换方式
type Conversion int

const (
	ConvertNone Conversion = iota
	ConvertBodyType
	ConvertTimestamp
	ConvertAge
)

// SensorDescriptor 传感器静态元数据
type SensorDescriptor struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Unit        string     `json:"unit,omitempty"`
	DeviceClass string     `json:"device_class,omitempty"`
	Icon        string     `json:"icon"`
	Aliases     []string   `json:"aliases,omitempty"`
	Conversion  Conversion `json:"-"`
}

// 传感器 key
const (
	SensorWeight        = "weight"
	SensorHeight        = "height"
	SensorResistance    = "body_r"
	SensorBMI           = "bmi"
	SensorBodyFat       = "body_fat"
	SensorMuscle        = "muscle"
	SensorWater         = "water"
	SensorBones         = "bones"
	SensorProtein       = "protein"
	SensorVisceralFat   = "visceral_fat"
	SensorMetabolism    = "metabolism"
	SensorBodyAge       = "body_age"
	SensorBodyScore     = "body_score"
	SensorBodyType      = "body_type"
	SensorFatFreeWeight = "fat_free_weight"
	SensorHeartRate     = "heart_rate"
	SensorCreateTime    = "create_time"
	SensorPhysicalAge   = "physical_age"
	SensorCalories      = "calories"
	SensorStepCount     = "step_count"
)

var sensors = []SensorDescriptor{
	{Key: SensorWeight, Name: "Weight", Unit: "kg", DeviceClass: "weight", Icon: "mdi:scale-bathroom", Aliases: []string{KeyWeightRaw}},
	{Key: SensorHeight, Name: "Height", Unit: "cm", DeviceClass: "distance", Icon: "mdi:human-male-height", Aliases: []string{"body_height"}},
	{Key: SensorResistance, Name: "Body Resistance", Unit: "Ω", Icon: "mdi:omega", Aliases: []string{"resistance", "impedance"}},
	{Key: SensorBMI, Name: "BMI", Icon: "mdi:human", Aliases: []string{"body_mass_index"}},
	{Key: SensorBodyFat, Name: "Body Fat", Unit: "%", Icon: "mdi:percent-outline", Aliases: []string{"fat", "bodyfat", "body_fat_rate"}},
	{Key: SensorMuscle, Name: "Muscle Mass", Unit: "kg", DeviceClass: "weight", Icon: "mdi:arm-flex", Aliases: []string{"muscle_mass"}},
	{Key: SensorWater, Name: "Body Water", Unit: "%", Icon: "mdi:water-percent", Aliases: []string{"body_water", "water_rate"}},
	{Key: SensorBones, Name: "Bone Mass", Unit: "kg", DeviceClass: "weight", Icon: "mdi:bone", Aliases: []string{"bone_mass", "bone"}},
	{Key: SensorProtein, Name: "Protein", Unit: "%", Icon: "mdi:egg", Aliases: []string{"protein_rate"}},
	{Key: SensorVisceralFat, Name: "Visceral Fat", Icon: "mdi:stomach", Aliases: []string{"visceral_fat_level", "vfal"}},
	{Key: SensorMetabolism, Name: "Basal Metabolism", Unit: "kcal", Icon: "mdi:fire", Aliases: []string{"bmr"}},
	{Key: SensorBodyAge, Name: "Body Age", Unit: "years", Icon: "mdi:calendar-account", Aliases: []string{"metabolic_age"}},
	{Key: SensorBodyScore, Name: "Body Score", Unit: "points", Icon: "mdi:star-circle", Aliases: []string{"score"}},
	{Key: SensorBodyType, Name: "Body Type", Icon: "mdi:human-handsdown", Aliases: []string{"body_shape"}, Conversion: ConvertBodyType},
	{Key: SensorFatFreeWeight, Name: "Fat Free Weight", Unit: "kg", DeviceClass: "weight", Icon: "mdi:weight-kilogram", Aliases: []string{"ffm", "lean_body_mass"}},
	{Key: SensorHeartRate, Name: "Heart Rate", Unit: "bpm", Icon: "mdi:heart-pulse", Aliases: []string{"heart"}},
	{Key: SensorCreateTime, Name: "Last Measurement", DeviceClass: "timestamp", Icon: "mdi:clock-outline", Aliases: []string{"createTime", "measure_time"}, Conversion: ConvertTimestamp},
	{Key: SensorPhysicalAge, Name: "Physical Age", Unit: "years", Icon: "mdi:account-clock", Conversion: ConvertAge},
	{Key: SensorCalories, Name: "Calories", Unit: "kcal", Icon: "mdi:fire", Aliases: []string{"calorie"}},
	{Key: SensorStepCount, Name: "Steps", Unit: "steps", Icon: "mdi:walk", Aliases: []string{"steps"}},
}

var sensorIndex = func() map[string]int {
	idx := make(map[string]int, len(sensors))
	for i, s := range sensors {
		idx[s.Key] = i
	}
	return idx
}()

// Sensors 返回全部传感器描述（副本）
func Sensors() []SensorDescriptor {
	out := make([]SensorDescriptor, len(sensors))
	copy(out, sensors)
	return out
}

// LookupSensor 按 key 或别名查找描述
func LookupSensor(key string) (SensorDescriptor, bool) {
	if i, ok := sensorIndex[key]; ok {
		return sensors[i], true
	}
	for _, s := range sensors {
		for _, alias := range s.Aliases {
			if alias == key {
				return s, true
			}
		}
	}
	return SensorDescriptor{}, false
}

// Canonical 将原始字段名归一到传感器 key，未知字段原样返回
func Canonical(key string) string {
	if s, ok := LookupSensor(key); ok {
		return s.Key
	}
	return key
}
