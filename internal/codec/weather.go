package codec

// Condition is a weather condition tag as used for screensaver icons.
type Condition string

const (
	ConditionClearNight     Condition = "clear-night"
	ConditionCloudy         Condition = "cloudy"
	ConditionExceptional    Condition = "exceptional"
	ConditionFog            Condition = "fog"
	ConditionHail           Condition = "hail"
	ConditionLightning      Condition = "lightning"
	ConditionLightningRainy Condition = "lightning-rainy"
	ConditionPartlyCloudy   Condition = "partlycloudy"
	ConditionPouring        Condition = "pouring"
	ConditionRainy          Condition = "rainy"
	ConditionSnowy          Condition = "snowy"
	ConditionSnowyRainy     Condition = "snowy-rainy"
	ConditionSunny          Condition = "sunny"
	ConditionWindy          Condition = "windy"
	ConditionWindyVariant   Condition = "windy-variant"
)

type weatherSpan struct {
	lo, hi int
	cond   Condition
}

// weatherTable maps OpenWeatherMap condition codes onto condition tags.
// Spans are checked in order; code 800 is resolved separately.
var weatherTable = []weatherSpan{
	{200, 202, ConditionLightningRainy},
	{210, 221, ConditionLightning},
	{230, 232, ConditionLightningRainy},
	{300, 321, ConditionRainy},
	{500, 504, ConditionRainy},
	{511, 511, ConditionSnowyRainy},
	{520, 531, ConditionPouring},
	{600, 602, ConditionSnowy},
	{611, 616, ConditionSnowyRainy},
	{620, 622, ConditionSnowy},
	{701, 771, ConditionFog},
	{781, 781, ConditionExceptional},
	{801, 801, ConditionPartlyCloudy},
	{802, 802, ConditionPartlyCloudy},
	{803, 804, ConditionCloudy},
	{900, 902, ConditionExceptional},
	{903, 904, ConditionExceptional},
	{905, 905, ConditionWindy},
	{906, 906, ConditionHail},
	{951, 956, ConditionWindyVariant},
	{957, 962, ConditionWindy},
}

// WeatherCondition maps a weather condition code to a condition tag.
// Unknown codes map to ConditionExceptional.
func WeatherCondition(code int, isDay bool) Condition {
	if code == 800 {
		if isDay {
			return ConditionSunny
		}
		return ConditionClearNight
	}
	for _, span := range weatherTable {
		if code >= span.lo && code <= span.hi {
			return span.cond
		}
	}
	return ConditionExceptional
}
