package tasmota

import (
	"fmt"
	"strconv"
)

// Message is a raw MQTT message as a panel would publish it.
type Message struct {
	Topic   string
	Payload string
	Retain  bool
}

const (
	simDeviceID  = "0CDC7E31E4CC"
	simDiscovery = `{"ip":"192.168.178.67","dn":"Tasmota","fn":["Tasmota","",null,null,null,null,null,null],"hn":"%[1]s-1228","mac":"0CDC7E31E4CC","md":"NSPanel","ty":0,"if":0,"ofln":"Offline","onln":"Online","state":["OFF","ON","TOGGLE","HOLD"],"sw":"12.2.0","t":"%[1]s","ft":"%%prefix%%/%%topic%%/","tp":["cmnd","stat","tele"],"rl":[1,1,0,0,0,0,0,0],"swc":[-1,-1,-1,-1,-1,-1,-1,-1],"btn":[0,0,0,0,0,0,0,0],"so":{"4":0,"11":0,"13":0,"17":0,"20":0,"30":0,"68":0,"73":0,"82":0,"114":0,"117":0},"lk":0,"lt_st":0,"sho":[0,0,0,0],"ver":1}`
	simSensors   = `{"sn":{"Time":"2022-11-28T16:17:32","ANALOG":{"Temperature1":23.2},"ESP32":{"Temperature":28.9},"TempUnit":"C"},"ver":1}`
)

// SimulatedPanelMessages are the canned panel events, numbered from 1.
var SimulatedPanelMessages = []string{
	"event,startup,45,eu",
	"event,buttonPress2,licht.eg.tv_wand_nische,OnOff,0",
	"event,buttonPress2,licht.eg.tv_wand_nische,OnOff,1",
	"event,sleepReached,cardEntities",
	"event,buttonPress2,screensaver,bExit,1",
}

// SimulatedMessage returns canned message n for device. 1..5 are panel
// events, "lwt" is a retained LWT Offline, "discovery" yields the retained
// discovery config and sensors pair.
func SimulatedMessage(ft FullTopic, device, which string) ([]Message, error) {
	switch which {
	case "lwt":
		return []Message{{Topic: ft.Build(PrefixTele, device, "LWT"), Payload: "Offline", Retain: true}}, nil
	case "discovery":
		return []Message{
			{Topic: DiscoveryTopic(simDeviceID, "config"), Payload: fmt.Sprintf(simDiscovery, device), Retain: true},
			{Topic: DiscoveryTopic(simDeviceID, "sensors"), Payload: simSensors, Retain: true},
		}, nil
	}
	n, err := strconv.Atoi(which)
	if err != nil || n < 1 || n > len(SimulatedPanelMessages) {
		return nil, fmt.Errorf("simulated message %q not defined", which)
	}
	return []Message{{
		Topic:   ft.Build(PrefixTele, device, "RESULT"),
		Payload: fmt.Sprintf(`{"CustomRecv": %q}`, SimulatedPanelMessages[n-1]),
	}}, nil
}
